// Package ingest materializes the datasets behind the query tools: it pulls
// rows from the Hugging Face datasets-server or a local CSV/XLSX file and
// writes them as a relational table.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"bdagent/internal/dataset"
)

// Fetcher loads a remote dataset by its source path.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (*Table, error)
}

type Config struct {
	Fetcher Fetcher // usually an *HFClient
	Logger  *slog.Logger
}

// Ingester runs the ETL for a set of dataset descriptors.
type Ingester struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func New(cfg Config) *Ingester {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingester{fetcher: cfg.Fetcher, logger: cfg.Logger}
}

// Result reports one dataset's outcome.
type Result struct {
	Name     string
	Location string
	Rows     int
	Err      error
}

// Run ingests each descriptor in turn. A failing dataset does not stop the
// others; the joined error lists every failure.
func (i *Ingester) Run(ctx context.Context, descs []dataset.Descriptor) ([]Result, error) {
	results := make([]Result, 0, len(descs))
	var errs []error
	for _, d := range descs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		i.logger.Info("processing dataset", "name", d.Name, "source", d.Source)
		n, err := i.Ingest(ctx, d)
		results = append(results, Result{Name: d.Name, Location: d.Location(), Rows: n, Err: err})
		if err != nil {
			i.logger.Error("dataset failed", "name", d.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		i.logger.Info("saved rows", "name", d.Name, "rows", n, "location", d.Location())
	}
	return results, errors.Join(errs...)
}

// Ingest loads one dataset and replaces its table.
func (i *Ingester) Ingest(ctx context.Context, d dataset.Descriptor) (int, error) {
	if d.Source == "" {
		return 0, fmt.Errorf("no source configured")
	}

	var (
		t   *Table
		err error
	)
	if IsFileSource(d.Source) {
		t, err = ReadFile(d.Source)
	} else {
		if i.fetcher == nil {
			return 0, fmt.Errorf("no remote fetcher configured for %s", d.Source)
		}
		t, err = i.fetcher.Fetch(ctx, d.Source)
	}
	if err != nil {
		return 0, err
	}

	db, err := openTarget(d)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return NewWriter(db, d.Driver).Replace(ctx, d.Table, t)
}

// openTarget opens the descriptor's database for writing, creating the
// SQLite file and its directory when needed.
func openTarget(d dataset.Descriptor) (*sql.DB, error) {
	switch d.Driver {
	case dataset.DriverPostgres:
		if d.DSN == "" {
			return nil, fmt.Errorf("postgres dataset %s has no dsn", d.Name)
		}
		db, err := sql.Open("postgres", d.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case dataset.DriverSQLite, "":
		if dir := filepath.Dir(d.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
		db, err := sql.Open("sqlite", d.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", d.Path, err)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", d.Driver)
	}
}
