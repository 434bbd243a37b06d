package schema

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dbchat/internal/database"
)

func openSQLite(t *testing.T, ddl ...string) *database.Conn {
	t.Helper()
	conn, err := database.Connect(context.Background(), database.Params{Dialect: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	for _, stmt := range ddl {
		_, err := conn.DB().Exec(stmt)
		require.NoError(t, err)
	}
	return conn
}

func TestLoadSQLite(t *testing.T) {
	conn := openSQLite(t,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id), total REAL)`,
	)

	snap, err := Load(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", snap.Dialect())
	require.Equal(t, 2, snap.TableCount())

	tables := snap.Tables()
	assert.Equal(t, "customers", tables[0].Name)
	require.Len(t, tables[0].Columns, 3)
	assert.True(t, tables[0].Columns[0].IsPK)
	assert.False(t, tables[0].Columns[1].Nullable)
	assert.True(t, tables[0].Columns[2].Nullable)

	require.Len(t, tables[1].ForeignKeys, 1)
	assert.Equal(t, ForeignKey{Column: "customer_id", ForeignTable: "customers", ForeignColumn: "id"}, tables[1].ForeignKeys[0])

	text := snap.Text()
	assert.Contains(t, text, "TABLE: customers\n")
	assert.Contains(t, text, "  - id: INTEGER, PK, NOT NULL\n")
	assert.Contains(t, text, "  - email: TEXT\n")
	assert.Contains(t, text, "  - customer_id: INTEGER, NOT NULL -> customers.id\n")
}

func TestLoadSQLiteEmpty(t *testing.T) {
	snap, err := Load(context.Background(), openSQLite(t))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TableCount())
	assert.Equal(t, "(no tables found)", snap.Text())
}

func TestLoadPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))
	mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "nullable", "comment"}).
			AddRow("users", "id", "integer", false, "").
			AddRow("users", "team_id", "integer", true, "owning team"))
	mock.ExpectQuery("PRIMARY KEY").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("users", "id"))
	mock.ExpectQuery("FOREIGN KEY").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "foreign_table", "foreign_column"}).
			AddRow("users", "team_id", "teams", "id"))
	mock.ExpectQuery("FROM pg_class").WillReturnError(assert.AnError)

	conn, err := database.Wrap(db, "postgres")
	require.NoError(t, err)

	snap, err := Load(context.Background(), conn)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "TABLE: users\n  - id: integer, PK, NOT NULL\n  - team_id: integer -> teams.id // owning team\n", snap.Text())
}

func TestLoadMySQLPropagatesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("table_schema = DATABASE()").WillReturnError(assert.AnError)

	conn, err := database.Wrap(db, "mysql")
	require.NoError(t, err)

	_, err = Load(context.Background(), conn)
	require.ErrorIs(t, err, assert.AnError)
}

func TestLoadMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders"))
	mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_type", "nullable", "pk", "comment"}).
			AddRow("orders", "id", "int", false, true, "").
			AddRow("orders", "amount", "decimal(10,2)", true, false, ""))
	mock.ExpectQuery("referenced_table_name IS NOT NULL").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "ref_table", "ref_column"}))
	mock.ExpectQuery("table_rows").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_rows"}).AddRow("orders", 42))

	conn, err := database.Wrap(db, "mysql")
	require.NoError(t, err)

	snap, err := Load(context.Background(), conn)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "TABLE: orders (~42 rows)\n  - id: int, PK, NOT NULL\n  - amount: decimal(10,2)\n", snap.Text())
}

func TestSnapshotIsImmutable(t *testing.T) {
	tables := []Table{{Name: "a", Columns: []Column{{Name: "x", Type: "int", Nullable: true}}}}
	snap := NewSnapshot("sqlite", tables, time.Unix(0, 0))

	tables[0].Columns[0].Name = "changed"
	got := snap.Tables()
	got[0].Name = "also changed"

	assert.Equal(t, "a", snap.Tables()[0].Name)
	assert.Equal(t, "x", snap.Tables()[0].Columns[0].Name)
	assert.Equal(t, "TABLE: a\n  - x: int\n", snap.Text())
}
