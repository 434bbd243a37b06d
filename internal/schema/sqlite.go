package schema

import (
	"context"
	"database/sql"
)

func loadSQLite(ctx context.Context, db *sql.DB) ([]Table, error) {
	names, err := queryStrings(ctx, db, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}

	columns := make(map[string][]Column, len(names))
	primaryKeys := make(map[string][]string, len(names))
	foreignKeys := make(map[string][]ForeignKey, len(names))
	for _, name := range names {
		cols, pks, err := getSQLiteColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		columns[name] = cols
		primaryKeys[name] = pks

		fks, err := getSQLiteForeignKeys(ctx, db, name)
		if err != nil {
			return nil, err
		}
		foreignKeys[name] = fks
	}

	return assemble(names, columns, primaryKeys, foreignKeys, nil), nil
}

func getSQLiteColumns(ctx context.Context, db *sql.DB, table string) ([]Column, []string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	var pks []string
	for rows.Next() {
		var col Column
		var notNull, pk int
		if err := rows.Scan(&col.Name, &col.Type, &notNull, &pk); err != nil {
			return nil, nil, err
		}
		// sqlite reports INTEGER PRIMARY KEY columns as nullable
		col.Nullable = notNull == 0 && pk == 0
		cols = append(cols, col)
		if pk > 0 {
			pks = append(pks, col.Name)
		}
	}
	return cols, pks, rows.Err()
}

func getSQLiteForeignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var to sql.NullString
		if err := rows.Scan(&fk.Column, &fk.ForeignTable, &to); err != nil {
			return nil, err
		}
		fk.ForeignColumn = to.String
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
