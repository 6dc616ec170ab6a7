// Package memory provides an in-process, map-backed recorder.Store reference
// implementation.
package memory

import (
	"context"
	"sync"

	"goa.design/flowkernel/recorder"
)

// Store is a sync.RWMutex-guarded map of fingerprint to Entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]recorder.Entry
}

// New constructs an empty in-memory recording store.
func New() *Store {
	return &Store{entries: make(map[string]recorder.Entry)}
}

var _ recorder.Store = (*Store)(nil)

// Put files entry under its fingerprint. Recordings are treated as immutable
// once finalized; a second Put for the same fingerprint overwrites, which is
// harmless since Hash is deterministic and two legitimate recordings of the
// same fingerprint are expected to be identical.
func (s *Store) Put(_ context.Context, entry recorder.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Fingerprint] = entry
	return nil
}

// Get returns the cached entry for fingerprint, or (nil, nil) on a miss.
func (s *Store) Get(_ context.Context, fingerprint string) (*recorder.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Delete removes a cached entry, if present.
func (s *Store) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// List returns every cached fingerprint.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for fp := range s.entries {
		out = append(out, fp)
	}
	return out, nil
}
