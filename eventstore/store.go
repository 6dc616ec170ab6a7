// Package eventstore defines the append-only persistence contract the kernel
// consumes. Concrete backends (package eventstore/memory, eventstore/sqlite)
// are reference implementations; any backend satisfying EventStore — a SQL
// table, a document store, a flat file — is a valid substitute.
package eventstore

import (
	"context"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/ids"
)

// EventStore persists a session's event log and supports positional reads.
// Implementations must preserve insertion order per session and serialize
// concurrent appends to the same session; appends to distinct sessions are
// independent and may proceed concurrently.
//
// Reads of an unknown session are not an error: GetAll and GetFrom return an
// empty, nil-error result. Only DeleteSession distinguishes "session exists"
// from "session does not exist" by way of ErrSessionNotFound, since deleting
// nothing silently would hide a caller bug.
type EventStore interface {
	// Append adds ev to sessionID's log at the next position. Durable before
	// returning: callers that need at-least-once visibility to subscribers
	// (checkpoints, completion) must wait for Append to return before treating
	// the event as observable.
	Append(ctx context.Context, sessionID ids.SessionID, ev event.Event) error

	// GetAll returns every event recorded for sessionID, in append order. An
	// unknown session returns (nil, nil).
	GetAll(ctx context.Context, sessionID ids.SessionID) ([]event.Event, error)

	// GetFrom returns events recorded for sessionID starting at the given
	// zero-based position (inclusive). An unknown session, or a position past
	// the end of the log, returns (nil, nil).
	GetFrom(ctx context.Context, sessionID ids.SessionID, position int) ([]event.Event, error)

	// ListSessions returns the distinct set of session identifiers known to
	// the store.
	ListSessions(ctx context.Context) ([]ids.SessionID, error)

	// DeleteSession removes a session's entire log. Returns
	// ErrSessionNotFound if the session is unknown.
	DeleteSession(ctx context.Context, sessionID ids.SessionID) error
}
