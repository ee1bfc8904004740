package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bdagent/internal/dataset"
)

// maxBindVars keeps multi-row inserts under SQLite's default variable limit.
const maxBindVars = 900

// Writer replaces tables in a SQLite or Postgres database.
type Writer struct {
	db     *sql.DB
	driver string
}

func NewWriter(db *sql.DB, driver string) *Writer {
	if driver == "" {
		driver = dataset.DriverSQLite
	}
	return &Writer{db: db, driver: driver}
}

// Replace drops table, recreates it from t's columns and inserts every row in
// one transaction. It returns the number of rows written.
func (w *Writer) Replace(ctx context.Context, table string, t *Table) (int, error) {
	if len(t.Columns) == 0 {
		return 0, fmt.Errorf("table %s has no columns", table)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+dataset.QuoteIdent(table)); err != nil {
		return 0, fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, dataset.CreateTableSQL(table, t.Columns)); err != nil {
		return 0, fmt.Errorf("create %s: %w", table, err)
	}

	batch := maxBindVars / len(t.Columns)
	if batch < 1 {
		batch = 1
	}
	for start := 0; start < len(t.Rows); start += batch {
		end := min(start+batch, len(t.Rows))
		query, args := w.insertSQL(table, t.Columns, t.Rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(t.Rows), nil
}

func (w *Writer) insertSQL(table string, cols []dataset.Column, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(dataset.QuoteIdent(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(dataset.QuoteIdent(c.Name))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			args = append(args, cell(row, c))
			b.WriteString(w.placeholder(len(args)))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func (w *Writer) placeholder(n int) string {
	if w.driver == dataset.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func cell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}
