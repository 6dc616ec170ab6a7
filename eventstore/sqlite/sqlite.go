// Package sqlite provides a single-file, durable EventStore reference
// implementation backed by modernc.org/sqlite (a pure-Go, cgo-free SQLite
// driver). Each session's log is a row set keyed by (session_id, position);
// appends to a given session are serialized through a per-session mutex since
// SQLite itself only tolerates one writer at a time.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/workflowerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	caused_by  TEXT,
	ts_unix_ns INTEGER NOT NULL,
	PRIMARY KEY (session_id, position)
);
CREATE INDEX IF NOT EXISTS idx_events_session_name ON events (session_id, name);
`

// Store is a SQLite-backed EventStore. The underlying *sql.DB connection pool
// is capped at one open connection, matching SQLite's single-writer model;
// callers needing concurrent reads from multiple goroutines may still do so
// safely since database/sql serializes access to that single connection.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	sessions map[ids.SessionID]*sync.Mutex
}

var _ eventstore.EventStore = (*Store)(nil)

// Open creates or opens a SQLite database file at path (":memory:" for an
// ephemeral in-process database) and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, sessions: make(map[ids.SessionID]*sync.Mutex)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockFor(sessionID ids.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[sessionID] = m
	}
	return m
}

// Append inserts ev at the next free position for sessionID, serialized
// against concurrent appends to the same session.
func (s *Store) Append(ctx context.Context, sessionID ids.SessionID, ev event.Event) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var nextPos int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM events WHERE session_id = ?`, string(sessionID))
	if err := row.Scan(&nextPos); err != nil {
		return fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}

	data, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal event: %w", err)
	}

	var causedBy any
	if ev.CausedBy != nil {
		causedBy = string(*ev.CausedBy)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, position, name, payload, event_id, caused_by, ts_unix_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(sessionID), nextPos, string(ev.Name), string(data), string(ev.ID), causedBy, ev.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	return nil
}

// GetAll returns every event recorded for sessionID, in position order.
func (s *Store) GetAll(ctx context.Context, sessionID ids.SessionID) ([]event.Event, error) {
	return s.query(ctx, `SELECT payload FROM events WHERE session_id = ? ORDER BY position ASC`, string(sessionID))
}

// GetFrom returns events for sessionID starting at position (inclusive).
func (s *Store) GetFrom(ctx context.Context, sessionID ids.SessionID, position int) ([]event.Event, error) {
	return s.query(ctx, `SELECT payload FROM events WHERE session_id = ? AND position >= ? ORDER BY position ASC`, string(sessionID), position)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		ev, err := event.Unmarshal([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("sqlite store: decode: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListSessions returns the distinct session identifiers stored.
func (s *Store) ListSessions(ctx context.Context) ([]ids.SessionID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []ids.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, ids.SessionID(id))
	}
	return out, rows.Err()
}

// DeleteSession removes every row for sessionID. Returns
// ErrSessionNotFound if the session had no rows.
func (s *Store) DeleteSession(ctx context.Context, sessionID ids.SessionID) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, string(sessionID))
	if err != nil {
		return fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: %w: %s", workflowerr.ErrSessionNotFound, sessionID)
	}
	return nil
}
