// Package storage persists the session-event audit log in SQLite.
package storage

import (
	"log"
	"sync"

	// Using modernc.org/sqlite, a pure-Go driver: no CGO, so the host
	// cross-compiles cleanly.
	"database/sql"

	_ "modernc.org/sqlite"

	apperrors "github.com/lumenui/host/internal/errors"
)

// Store records session lifecycle events (launched, connected, closed)
// for later inspection. It satisfies the manager's Recorder interface.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path and ensures the schema.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	log.Printf("storage: opening database at %s", path)

	// Foreign keys on for integrity; busy_timeout so a concurrent CLI
	// invocation does not fail immediately on a locked database.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS session_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			proxy_id   TEXT NOT NULL,
			app_name   TEXT NOT NULL,
			event      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_proxy
			ON session_events (proxy_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
