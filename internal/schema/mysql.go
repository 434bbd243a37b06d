package schema

import (
	"context"
	"database/sql"
)

// MySQL catalogs are scoped to the connection's current database.
func loadMySQL(ctx context.Context, db *sql.DB) ([]Table, error) {
	names, err := queryStrings(ctx, db, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}

	columns, primaryKeys, err := getMySQLColumns(ctx, db)
	if err != nil {
		return nil, err
	}

	foreignKeys, err := queryForeignKeys(ctx, db, `
		SELECT table_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
		  AND referenced_table_name IS NOT NULL`)
	if err != nil {
		return nil, err
	}

	rowEstimates, err := queryEstimates(ctx, db, `
		SELECT table_name, COALESCE(table_rows, 0)
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type = 'BASE TABLE'`)
	if err != nil {
		rowEstimates = make(map[string]int64)
	}

	return assemble(names, columns, primaryKeys, foreignKeys, rowEstimates), nil
}

func getMySQLColumns(ctx context.Context, db *sql.DB) (map[string][]Column, map[string][]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, column_name, column_type, is_nullable = 'YES', column_key = 'PRI', column_comment
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns := make(map[string][]Column)
	primaryKeys := make(map[string][]string)
	for rows.Next() {
		var tableName string
		var isPK bool
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &col.Nullable, &isPK, &col.Comment); err != nil {
			return nil, nil, err
		}
		columns[tableName] = append(columns[tableName], col)
		if isPK {
			primaryKeys[tableName] = append(primaryKeys[tableName], col.Name)
		}
	}
	return columns, primaryKeys, rows.Err()
}
