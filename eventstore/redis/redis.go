// Package redis provides a Redis-backed EventStore reference implementation.
// The teacher uses Redis for cross-node tool-result correlation
// (registry/result_stream.go: Set/Get/Del/Expire against short-lived
// mapping keys); this adapts that same narrow command surface to a
// different role — a durable per-session append log — using RPush/LRange
// against a list key per session instead of a single mapping key per tool
// call.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/workflowerr"
)

const keyPrefix = "flowkernel:events:"

// Store is a Redis-backed EventStore. Each session's events live in a single
// Redis list keyed by session ID, appended to with RPUSH and read with
// LRANGE; ordering matches Redis's own list ordering, so no separate
// position field is stored on the wire.
type Store struct {
	rdb *redis.Client
}

var _ eventstore.EventStore = (*Store)(nil)

// New wraps an existing, already-connected *redis.Client.
func New(rdb *redis.Client) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis store: client is required")
	}
	return &Store{rdb: rdb}, nil
}

func sessionKey(sessionID ids.SessionID) string {
	return keyPrefix + string(sessionID)
}

// Append pushes ev onto sessionID's list. Redis list ordering gives us the
// append-only, strictly-ordered log the rest of the kernel assumes.
func (s *Store) Append(ctx context.Context, sessionID ids.SessionID, ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis store: marshal event: %w", err)
	}
	if err := s.rdb.RPush(ctx, sessionKey(sessionID), data).Err(); err != nil {
		return fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	if err := s.rdb.SAdd(ctx, keyPrefix+"sessions", string(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	return nil
}

// GetAll returns every event recorded for sessionID, oldest first.
func (s *Store) GetAll(ctx context.Context, sessionID ids.SessionID) ([]event.Event, error) {
	return s.getRange(ctx, sessionID, 0)
}

// GetFrom returns events for sessionID starting at position (0-based,
// inclusive).
func (s *Store) GetFrom(ctx context.Context, sessionID ids.SessionID, position int) ([]event.Event, error) {
	return s.getRange(ctx, sessionID, int64(position))
}

func (s *Store) getRange(ctx context.Context, sessionID ids.SessionID, start int64) ([]event.Event, error) {
	raw, err := s.rdb.LRange(ctx, sessionKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	out := make([]event.Event, 0, len(raw))
	for _, item := range raw {
		ev, err := event.Unmarshal([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("redis store: unmarshal: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// ListSessions returns every session ID that has ever had an event
// appended, tracked in a side set since Redis has no native key-pattern
// listing cheap enough to rely on.
func (s *Store) ListSessions(ctx context.Context) ([]ids.SessionID, error) {
	raw, err := s.rdb.SMembers(ctx, keyPrefix+"sessions").Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	out := make([]ids.SessionID, 0, len(raw))
	for _, v := range raw {
		out = append(out, ids.SessionID(v))
	}
	return out, nil
}

// DeleteSession removes sessionID's list and its membership entry. Returns
// ErrSessionNotFound if the session had no recorded events.
func (s *Store) DeleteSession(ctx context.Context, sessionID ids.SessionID) error {
	n, err := s.rdb.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	if err := s.rdb.SRem(ctx, keyPrefix+"sessions", string(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("redis store: %w: %s", workflowerr.ErrSessionNotFound, sessionID)
	}
	return nil
}
