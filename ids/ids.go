// Package ids defines the branded identifier types used across the workflow
// kernel. Every cross-entity reference (a session referenced from an event, an
// interaction referenced from a HITL response, a recording referenced from a
// fingerprint lookup) uses one of these types rather than a bare string, so a
// misplaced argument is a compile error rather than a runtime surprise.
package ids

import "github.com/google/uuid"

type (
	// SessionID identifies one workflow execution. Minted once per session and
	// referenced by every event appended to that session's log.
	SessionID string

	// EventID uniquely identifies a single appended event. IDs are minted with a
	// time-ordered UUID (v7) so that sorting by ID approximates append order even
	// across process boundaries; callers must still rely on log position for the
	// authoritative order.
	EventID string

	// InteractionID identifies one HITL request/response exchange.
	InteractionID string

	// RecordingID identifies one in-flight provider recording, distinct from the
	// recording's content-addressed fingerprint: the ID tracks a specific live
	// stream being taped, while the fingerprint is the cache key it is filed
	// under once finalized.
	RecordingID string

	// IntentID identifies one state mutation emitted by the scheduler: the
	// forward/inverse patch pair recorded under a "state:intent" event. Stepping
	// an execution backward means locating a prior IntentID in the log and
	// applying its inverse patches.
	IntentID string
)

// NewSessionID mints a fresh, globally-unique session identifier.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewEventID mints a fresh, time-ordered event identifier. Falls back to a
// random UUID if a v7 identifier cannot be generated (practically never, since
// the only failure mode is entropy exhaustion).
func NewEventID() EventID {
	id, err := uuid.NewV7()
	if err != nil {
		return EventID(uuid.NewString())
	}
	return EventID(id.String())
}

// NewInteractionID mints a fresh HITL interaction identifier.
func NewInteractionID() InteractionID { return InteractionID(uuid.NewString()) }

// NewRecordingID mints a fresh recording identifier.
func NewRecordingID() RecordingID { return RecordingID(uuid.NewString()) }

// NewIntentID mints a fresh state-intent identifier.
func NewIntentID() IntentID { return IntentID(uuid.NewString()) }
