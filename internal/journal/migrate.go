package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: sessions, turns",
		SQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			provider    TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			tool_name   TEXT NOT NULL DEFAULT '',
			iteration   INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
		`,
	},
	{
		Version:     2,
		Description: "v2: token estimates per turn, session end time",
		SQL: `
		ALTER TABLE turns ADD COLUMN tokens INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE sessions ADD COLUMN ended_at TEXT NOT NULL DEFAULT '';
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying journal migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			// A journal created by an older build may already have some of
			// the columns; replay statement by statement.
			logger.Warn("migration failed as a batch, retrying per statement", "version", m.Version, "err", err)
			if err := applyStatements(db, m, logger); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// applyStatements runs each statement of m on its own, skipping the ones that
// fail only because their effect is already present.
func applyStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement already applied", "version", m.Version)
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w", m.Version, err)
		}
	}
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// GetSchemaVersion returns the applied schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
