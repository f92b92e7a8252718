package storage

import (
	"database/sql"
	"time"

	apperrors "github.com/lumenui/host/internal/errors"
)

// maxEvents caps the audit log. Oldest rows are deleted once the cap is
// exceeded, so the database cannot grow without bound on a long-running
// host.
const maxEvents = 10000

// Event is one recorded session lifecycle transition.
type Event struct {
	ProxyID   string
	AppName   string
	Event     string
	CreatedAt time.Time
}

// RecordEvent appends one lifecycle event and enforces retention.
func (s *Store) RecordEvent(proxyID, appName, event string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const insert = `
		INSERT INTO session_events (proxy_id, app_name, event, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.Exec(insert, proxyID, appName, event, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "record event", err)
	}

	const cleanup = `
		DELETE FROM session_events WHERE id IN (
			SELECT id FROM session_events ORDER BY id DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanup, maxEvents); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "enforce event retention", err)
	}
	return nil
}

// EventsForProxy returns the recorded events for one proxy, oldest
// first.
func (s *Store) EventsForProxy(proxyID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		SELECT proxy_id, app_name, event, created_at
		FROM session_events
		WHERE proxy_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.Query(query, proxyID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "query events", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentEvents returns the newest events across all proxies, newest
// first. limit <= 0 uses a default of 50.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT proxy_id, app_name, event, created_at
		FROM session_events
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "query events", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var createdAt string
		if err := rows.Scan(&ev.ProxyID, &ev.AppName, &ev.Event, &createdAt); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "scan event", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "parse event timestamp", err)
		}
		ev.CreatedAt = t
		out = append(out, ev)
	}
	return out, rows.Err()
}
