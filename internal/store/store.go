// Package store provides an optional SQLite-backed history of ask exchanges.
// The retrieval corpus itself is never persisted; only the questions asked in
// a session and the answers given are recorded, keyed by session id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Exchange is one answered question.
type Exchange struct {
	// SessionID identifies the session the question was asked in.
	SessionID string `json:"session_id"`
	// Query is the question as asked.
	Query string `json:"query"`
	// Context is the retrieved context the answer was built from.
	Context string `json:"context"`
	// Summary is the answer returned to the user.
	Summary string `json:"summary"`
	// CreatedAt is when the exchange was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore persists and retrieves ask exchanges keyed by session id.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one exchange.
	Append(ctx context.Context, ex Exchange) error
	// Recent returns the most recent n exchanges for the session, ordered
	// oldest-first. If fewer than n exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.kbase/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbase")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single connection: one writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS exchanges (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    query        TEXT    NOT NULL,
    context      TEXT    NOT NULL,
    summary      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session_created
    ON exchanges (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one exchange. A zero CreatedAt is set to now.
func (s *SQLiteStore) Append(ctx context.Context, ex Exchange) error {
	if ex.SessionID == "" {
		return errors.New("store: append: session id must not be empty")
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	const q = `INSERT INTO exchanges (session_id, query, context, summary, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, ex.SessionID, ex.Query, ex.Context, ex.Summary, ex.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n exchanges for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT session_id, query, context, summary, created_at FROM (
    SELECT id, session_id, query, context, summary, created_at
    FROM   exchanges
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var ts int64
		if err := rows.Scan(&ex.SessionID, &ex.Query, &ex.Context, &ex.Summary, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		ex.CreatedAt = time.Unix(ts, 0)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
