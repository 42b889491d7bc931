// Package queue provides the durable mutation queue for the sync engine.
//
// The queue is an embedded SQLite database (WAL mode for concurrent
// access) holding one row per pending mutation. Rows are keyed by an
// AUTOINCREMENT id, which gives every record a monotonically increasing
// identifier; id order is the canonical happens-before relation for
// records touching the same entity.
//
// Workflow:
//  1. The application (or the spool watcher) enqueues mutations while
//     the client may be offline.
//  2. The sync engine pulls eligible batches, dispatches them to the
//     remote authority, and records outcomes through the Mark* calls.
//  3. Synced records are removed; abandoned records stay visible until
//     a human retries or discards them.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the durable mutation queue.
//
// All methods are safe for concurrent use. Transitions on a single record
// are serialized by SQLite row-level atomicity; operations on different
// records may proceed concurrently.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a queue store backed by the SQLite database at path.
//
// The database is opened in embedded mode with WAL for concurrent reads
// and is created, along with its schema, if it does not exist.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := queue.Open(".syncd/queue.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping queue database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL mode for concurrent reads during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close queue database: %w", err)
	}

	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// initSchema creates the queue schema if it doesn't exist. Idempotent.
//
// AUTOINCREMENT guarantees ids grow monotonically and are never reused,
// even after rows are deleted; that property is what makes id order a
// safe happens-before relation across process restarts.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mutations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload BLOB,
		enqueued_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_eligible_at TEXT,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_mutations_state ON mutations(state);
	CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity_id, id);

	-- Composite index for batch eligibility queries
	CREATE INDEX IF NOT EXISTS idx_mutations_eligible
	    ON mutations(state, next_eligible_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
