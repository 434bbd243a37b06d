// Package schema provides database schema introspection for LLM context.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/dbchat/internal/database"
)

// Snapshot is the schema as seen at one point in time. It is never modified
// after Load returns; a refresh produces a new Snapshot.
type Snapshot struct {
	dialect  string
	tables   []Table
	loadedAt time.Time
	text     string
}

// Table represents a database table and its structure.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`
	RowEstimate int64        `json:"rowEstimate,omitempty"`
}

// Column represents a table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	IsPK     bool   `json:"isPK,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	Column        string `json:"column"`
	ForeignTable  string `json:"foreignTable"`
	ForeignColumn string `json:"foreignColumn"`
}

// Load queries the metadata catalog of conn's dialect.
func Load(ctx context.Context, conn *database.Conn) (*Snapshot, error) {
	var (
		tables []Table
		err    error
	)
	switch conn.Family() {
	case database.FamilyPostgres:
		tables, err = loadPostgres(ctx, conn.DB())
	case database.FamilyMySQL:
		tables, err = loadMySQL(ctx, conn.DB())
	case database.FamilySQLite:
		tables, err = loadSQLite(ctx, conn.DB())
	default:
		return nil, fmt.Errorf("no schema loader for %s", conn.Dialect().Name)
	}
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	return NewSnapshot(conn.Dialect().Name, tables, time.Now()), nil
}

// NewSnapshot freezes tables into a Snapshot.
func NewSnapshot(dialect string, tables []Table, loadedAt time.Time) *Snapshot {
	frozen := make([]Table, len(tables))
	for i, t := range tables {
		t.Columns = append([]Column(nil), t.Columns...)
		t.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
		frozen[i] = t
	}
	s := &Snapshot{dialect: dialect, tables: frozen, loadedAt: loadedAt}
	s.text = render(frozen)
	return s
}

// Tables returns a copy of the tables.
func (s *Snapshot) Tables() []Table {
	tables := make([]Table, len(s.tables))
	copy(tables, s.tables)
	return tables
}

func (s *Snapshot) Dialect() string     { return s.dialect }
func (s *Snapshot) TableCount() int     { return len(s.tables) }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Text serializes the schema to a text format suitable for LLM prompts.
func (s *Snapshot) Text() string {
	return s.text
}

func render(tables []Table) string {
	if len(tables) == 0 {
		return "(no tables found)"
	}

	var sb strings.Builder
	for i, table := range tables {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(tableToText(table))
	}
	return sb.String()
}

func tableToText(t Table) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("TABLE: %s", t.Name))
	if t.RowEstimate > 0 {
		sb.WriteString(fmt.Sprintf(" (~%d rows)", t.RowEstimate))
	}
	sb.WriteString("\n")

	for _, col := range t.Columns {
		sb.WriteString(fmt.Sprintf("  - %s: %s", col.Name, col.Type))

		var attrs []string
		if col.IsPK {
			attrs = append(attrs, "PK")
		}
		if !col.Nullable {
			attrs = append(attrs, "NOT NULL")
		}
		if len(attrs) > 0 {
			sb.WriteString(", " + strings.Join(attrs, ", "))
		}

		// Show FK relationship inline
		for _, fk := range t.ForeignKeys {
			if fk.Column == col.Name {
				sb.WriteString(fmt.Sprintf(" -> %s.%s", fk.ForeignTable, fk.ForeignColumn))
				break
			}
		}

		if col.Comment != "" {
			sb.WriteString(fmt.Sprintf(" // %s", col.Comment))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// assemble joins the per-catalog lookups into tables ordered like names.
func assemble(names []string, columns map[string][]Column, primaryKeys map[string][]string, foreignKeys map[string][]ForeignKey, rowEstimates map[string]int64) []Table {
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table := Table{
			Name:        name,
			Columns:     columns[name],
			ForeignKeys: foreignKeys[name],
			RowEstimate: rowEstimates[name],
		}

		// Mark primary key columns
		for i := range table.Columns {
			for _, pk := range primaryKeys[name] {
				if table.Columns[i].Name == pk {
					table.Columns[i].IsPK = true
					break
				}
			}
		}

		tables = append(tables, table)
	}
	return tables
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func queryPairs(ctx context.Context, db *sql.DB, query string) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make(map[string][]string)
	for rows.Next() {
		var tableName, colName string
		if err := rows.Scan(&tableName, &colName); err != nil {
			return nil, err
		}
		pairs[tableName] = append(pairs[tableName], colName)
	}
	return pairs, rows.Err()
}

func queryForeignKeys(ctx context.Context, db *sql.DB, query string) (map[string][]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fks := make(map[string][]ForeignKey)
	for rows.Next() {
		var tableName string
		var fk ForeignKey
		if err := rows.Scan(&tableName, &fk.Column, &fk.ForeignTable, &fk.ForeignColumn); err != nil {
			return nil, err
		}
		fks[tableName] = append(fks[tableName], fk)
	}
	return fks, rows.Err()
}

func queryEstimates(ctx context.Context, db *sql.DB, query string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	estimates := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		if count < 0 {
			count = 0
		}
		estimates[name] = count
	}
	return estimates, rows.Err()
}
