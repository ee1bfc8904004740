// Package journal keeps an append-only SQLite record of chat sessions and
// their turns. It is written while chatting and only read by the history
// command; transcripts are never rebuilt from it.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bdagent/internal/domain"
)

// ErrSessionNotFound is returned when a session id (or prefix) matches nothing.
var ErrSessionNotFound = errors.New("session not found")

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SessionInfo summarizes one recorded session.
type SessionInfo struct {
	ID        string
	Provider  string
	Model     string
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is open
	Turns     int
}

// Entry is one recorded turn.
type Entry struct {
	ID        int64
	SessionID string
	Role      domain.Role
	Text      string
	ToolName  string
	Iteration int
	Tokens    int
	CreatedAt time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates (if needed) and migrates the journal database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession records a new session and returns its id.
func (s *Store) StartSession(ctx context.Context, provider, model string) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC().Format(timeFormat)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, provider, model, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, provider, model, now, now,
	); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	s.logger.Debug("journal session started", "session", id)
	return id, nil
}

// RecordTurn appends one turn to a session.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	now := s.now().UTC().Format(timeFormat)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, tool_name, iteration, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(turn.Role), turn.Text, turn.ToolName, turn.Iteration, turn.Tokens, now,
	); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	now := s.now().UTC().Format(timeFormat)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, updated_at = ? WHERE id = ?`, now, now, sessionID,
	); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.provider, s.model, s.started_at, s.ended_at, COUNT(t.id)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info           SessionInfo
			started, ended string
		)
		if err := rows.Scan(&info.ID, &info.Provider, &info.Model, &started, &ended, &info.Turns); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.StartedAt = parseTime(started)
		info.EndedAt = parseTime(ended)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ResolveID expands a unique id prefix to the full session id.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("session prefix %q is ambiguous", prefix)
	}
}

// Turns returns a session's turns in the order they were recorded.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_name, iteration, tokens, created_at
		FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			role    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &role, &e.Text, &e.ToolName, &e.Iteration, &e.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.Role = domain.Role(role)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("lookup session: %w", err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
	}
	return out, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
