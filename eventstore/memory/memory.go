// Package memory provides an in-process, map-backed EventStore reference
// implementation: durable for the life of the process, not across restarts.
// It is the default store for tests and for short-lived CLI runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/workflowerr"
)

// Store is a sync.RWMutex-guarded map of session logs. The zero value is not
// usable; construct with New.
type Store struct {
	mu       sync.RWMutex
	sessions map[ids.SessionID][]event.Event
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[ids.SessionID][]event.Event)}
}

var _ eventstore.EventStore = (*Store)(nil)

// Append adds ev to sessionID's log. Appends to the same session are
// serialized by the store-wide mutex; this is adequate for the in-memory
// reference implementation since appends are in-memory slice writes, not I/O.
func (s *Store) Append(_ context.Context, sessionID ids.SessionID, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], ev)
	return nil
}

// GetAll returns a copy of sessionID's full log, or nil if unknown.
func (s *Store) GetAll(_ context.Context, sessionID ids.SessionID) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]event.Event, len(log))
	copy(out, log)
	return out, nil
}

// GetFrom returns events from position onward, or nil if the session is
// unknown or position is past the end of the log.
func (s *Store) GetFrom(_ context.Context, sessionID ids.SessionID, position int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.sessions[sessionID]
	if !ok || position >= len(log) {
		return nil, nil
	}
	if position < 0 {
		position = 0
	}
	out := make([]event.Event, len(log)-position)
	copy(out, log[position:])
	return out, nil
}

// ListSessions returns every session ID currently tracked by the store.
func (s *Store) ListSessions(_ context.Context) ([]ids.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out, nil
}

// DeleteSession removes sessionID's log entirely.
func (s *Store) DeleteSession(_ context.Context, sessionID ids.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("memory store: %w: %s", workflowerr.ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}
