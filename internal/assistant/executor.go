package assistant

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/gate"
)

const (
	defaultLimit = 200
	maxLimit     = 1000
)

// Querier is the part of *sql.DB the executor needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Result holds the rows of one executed statement.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Count returns the number of rows captured.
func (r Result) Count() int { return len(r.Rows) }

// CSV renders the result as CSV text with a header row. NULL stands in for nil
// so the model can tell a missing value from an empty string.
func (r Result) CSV() string {
	var sb strings.Builder
	_ = r.WriteCSV(&sb, "NULL")
	return sb.String()
}

// WriteCSV writes the header row and every captured row to w, rendering nil
// values as null.
func (r Result) WriteCSV(w io.Writer, null string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	for _, row := range r.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatCSVValue(v, null)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Execute runs an approved statement exactly as it was reviewed and captures
// at most maxRows rows. Statements that are not approved never reach db.
func Execute(ctx context.Context, db Querier, stmt *gate.Statement, maxRows int) (Result, error) {
	if stmt == nil || !stmt.IsApproved() {
		state := "missing"
		if stmt != nil {
			state = stmt.State().String()
		}
		return Result{}, failure.New(failure.Execution, fmt.Sprintf("refusing to run a statement that is %s", state))
	}

	limit := clampLimit(maxRows)
	start := time.Now()

	rows, err := db.QueryContext(ctx, stmt.SQL())
	if err != nil {
		return Result{}, failure.Wrap(failure.Execution, err.Error(), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, failure.Wrap(failure.Execution, err.Error(), err)
	}

	res := Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) >= limit {
			res.Truncated = true
			break
		}
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return Result{}, failure.Wrap(failure.Execution, err.Error(), err)
		}
		res.Rows = append(res.Rows, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, failure.Wrap(failure.Execution, err.Error(), err)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func scanRow(rows *sql.Rows, numCols int) ([]any, error) {
	values := make([]any, numCols)
	ptrs := make([]any, numCols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func normalizeRow(values []any) []any {
	row := make([]any, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case []byte:
			row[i] = string(val)
		case time.Time:
			row[i] = val.Format(time.RFC3339Nano)
		default:
			row[i] = val
		}
	}
	return row
}

func formatCSVValue(v any, null string) string {
	switch val := v.(type) {
	case nil:
		return null
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
