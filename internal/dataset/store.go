package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrTableNotFound = errors.New("table not found")

// Column is one column of a dataset table.
type Column struct {
	Name string
	Type string
}

// ResultSet holds the rows returned by a query, with driver values
// normalized (nil for NULL, string for byte slices).
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Store is a read-only handle on a single dataset table.
type Store struct {
	db      *sql.DB
	desc    Descriptor
	schema  string
	columns []Column
	logger  *slog.Logger
}

// Open connects to the table described by desc in read-only mode and loads
// its schema. SQLite files are opened with mode=ro and query_only; Postgres
// queries run inside read-only transactions.
func Open(ctx context.Context, desc Descriptor, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch desc.Driver {
	case "", DriverSQLite:
		desc.Driver = DriverSQLite
		if _, statErr := os.Stat(desc.Path); statErr != nil {
			return nil, fmt.Errorf("dataset %s: %w", desc.Name, statErr)
		}
		db, err = sql.Open("sqlite", "file:"+desc.Path+"?mode=ro&_pragma=query_only(1)")
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", desc.DSN)
	default:
		return nil, fmt.Errorf("dataset %s: unsupported driver %q", desc.Name, desc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset %s: open: %w", desc.Name, err)
	}

	s, err := newStore(ctx, db, desc, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(ctx context.Context, db *sql.DB, desc Descriptor, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, desc: desc, logger: logger.With("dataset", desc.Name)}
	if err := s.introspect(ctx); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", desc.Name, err)
	}
	s.logger.Debug("dataset opened", "table", desc.Table, "columns", len(s.columns))
	return s, nil
}

func (s *Store) Descriptor() Descriptor { return s.desc }

// Schema returns the table definition as shown to the language model.
func (s *Store) Schema() string { return s.schema }

func (s *Store) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs a single read-only statement and collects every row.
func (s *Store) Query(ctx context.Context, query string) (*ResultSet, error) {
	if s.desc.Driver == DriverPostgres {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		rs, err := collect(rows)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return rs, nil
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) (*ResultSet, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Store) introspect(ctx context.Context) error {
	if s.desc.Driver == DriverPostgres {
		return s.introspectPostgres(ctx)
	}
	return s.introspectSQLite(ctx)
}

func (s *Store) introspectSQLite(ctx context.Context) error {
	var ddl sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type='table' AND name=?`, s.desc.Table,
	).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, s.desc.Table)
	}
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	s.schema = ddl.String

	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+QuoteIdent(s.desc.Table)+")")
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		s.columns = append(s.columns, Column{Name: name, Type: typ})
	}
	return rows.Err()
}

func (s *Store) introspectPostgres(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`,
		s.desc.Table,
	)
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		s.columns = append(s.columns, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.columns) == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, s.desc.Table)
	}
	s.schema = CreateTableSQL(s.desc.Table, s.columns)
	return nil
}

// CreateTableSQL renders a CREATE TABLE statement for the given columns.
func CreateTableSQL(table string, cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(QuoteIdent(table))
	b.WriteString(" (\n")
	for i, c := range cols {
		b.WriteString("  ")
		b.WriteString(QuoteIdent(c.Name))
		if c.Type != "" {
			b.WriteString(" ")
			b.WriteString(c.Type)
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// QuoteIdent quotes an SQL identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
