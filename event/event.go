// Package event defines the atomic unit of the workflow kernel: a typed,
// immutable record appended to a session's log. Every runtime component reads
// and writes events through this package rather than ad-hoc structs, so the
// wire shape stays stable across the event store, the event hub, and replay.
package event

import (
	"encoding/json"
	"time"

	"goa.design/flowkernel/ids"
)

// Name identifies the kind of event and its payload shape. Names are fully
// qualified and colon-separated, mirroring the taxonomy in the runtime
// specification (e.g. "workflow:started", "phase:entered").
type Name string

// The full set of event names the kernel produces. Dispatch (package dispatch)
// has one case per name; a name added here without a matching case there is
// not caught at compile time, and Dispatch returns an error for it at run
// time rather than dropping it silently.
const (
	WorkflowStarted   Name = "workflow:started"
	WorkflowCompleted Name = "workflow:completed"
	WorkflowAborted   Name = "workflow:aborted"
	PhaseEntered      Name = "phase:entered"
	PhaseExited       Name = "phase:exited"
	AgentStarted      Name = "agent:started"
	AgentCompleted    Name = "agent:completed"
	AgentFailed       Name = "agent:failed"
	TextDelta         Name = "text:delta"
	ThinkingDelta     Name = "thinking:delta"
	ToolCalled        Name = "tool:called"
	ToolResult        Name = "tool:result"
	StateIntent       Name = "state:intent"
	StateCheckpoint   Name = "state:checkpoint"
	InputRequested    Name = "input:requested"
	InputReceived     Name = "input:received"
	SessionForked     Name = "session:forked"
	SubscriberLagged  Name = "hub:subscriber_lagged"
)

// Event is the atomic, immutable unit appended to a session's log. Payload
// holds one of the Payload* structs in this package, selected by Name.
type Event struct {
	// ID uniquely identifies this event within the store.
	ID ids.EventID
	// Name selects the payload shape; see the Name constants above.
	Name Name
	// Payload carries the event-specific data. Concrete type is determined by
	// Name; dispatch type-asserts rather than guessing.
	Payload any
	// Timestamp is the wall-clock time the event was created. Never
	// participates in fingerprinting or replay comparisons.
	Timestamp time.Time
	// CausedBy optionally names the event that directly provoked this one
	// (e.g. an input:received is caused by its matching input:requested),
	// forming a causality DAG across the log.
	CausedBy *ids.EventID
}

// New assigns a fresh EventID and timestamp and returns the constructed event.
// This is the only place an Event is permitted to be created, so every event
// in the system carries a consistent identity and clock reading.
func New(name Name, payload any, causedBy ...ids.EventID) Event {
	ev := Event{
		ID:        ids.NewEventID(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if len(causedBy) > 0 {
		c := causedBy[0]
		ev.CausedBy = &c
	}
	return ev
}

type (
	// PayloadWorkflowStarted is the payload of a "workflow:started" event.
	PayloadWorkflowStarted struct {
		SessionID ids.SessionID
		Workflow  string
		Input     any
	}

	// PayloadWorkflowCompleted is the payload of a "workflow:completed" event.
	PayloadWorkflowCompleted struct {
		SessionID  ids.SessionID
		FinalState any
		ExitPhase  string
	}

	// PayloadWorkflowAborted is the payload of a "workflow:aborted" event.
	PayloadWorkflowAborted struct {
		SessionID ids.SessionID
		Reason    string
	}

	// PayloadPhaseEntered is the payload of a "phase:entered" event.
	PayloadPhaseEntered struct {
		Phase     string
		FromPhase string
	}

	// PhaseExitReason classifies why a phase exited. See the PhaseExit*
	// constants below for the three valid values.
	PhaseExitReason string

	// PayloadPhaseExited is the payload of a "phase:exited" event.
	PayloadPhaseExited struct {
		Phase  string
		Reason PhaseExitReason
	}

	// PayloadAgentStarted is the payload of an "agent:started" event.
	PayloadAgentStarted struct {
		Agent   string
		Phase   string
		Context any
	}

	// PayloadAgentCompleted is the payload of an "agent:completed" event.
	PayloadAgentCompleted struct {
		Agent      string
		Output     any
		DurationMs int64
	}

	// PayloadAgentFailed is the payload of an "agent:failed" event.
	PayloadAgentFailed struct {
		Agent string
		Error string
	}

	// PayloadTextDelta is the payload of a "text:delta" event.
	PayloadTextDelta struct {
		AgentName string
		Delta     string
	}

	// PayloadThinkingDelta is the payload of a "thinking:delta" event.
	PayloadThinkingDelta struct {
		AgentName string
		Delta     string
	}

	// PayloadToolCalled is the payload of a "tool:called" event.
	PayloadToolCalled struct {
		AgentName string
		ToolID    string
		ToolName  string
		Input     any
	}

	// PayloadToolResult is the payload of a "tool:result" event.
	PayloadToolResult struct {
		AgentName string
		ToolID    string
		Output    any
		IsError   bool
	}

	// PayloadStateIntent is the payload of a "state:intent" event: a
	// speculative, pre-durability projection of a state mutation. Patches and
	// InversePatches are both []patch.Patch; typed any here to keep this
	// package free of an import cycle with patch.
	PayloadStateIntent struct {
		IntentID       ids.IntentID
		State          any
		Patches        any
		InversePatches any
	}

	// PayloadStateCheckpoint is the payload of a "state:checkpoint" event: a
	// durable restart point consulted by replay.
	PayloadStateCheckpoint struct {
		State    any
		Position int
		Phase    string
	}

	// InteractionKind classifies the shape of a HITL request.
	InteractionKind string

	// PayloadInputRequested is the payload of an "input:requested" event.
	PayloadInputRequested struct {
		ID       ids.InteractionID
		Prompt   string
		Type     InteractionKind
		Options  []string
		Metadata map[string]any
	}

	// PayloadInputReceived is the payload of an "input:received" event.
	PayloadInputReceived struct {
		ID       ids.InteractionID
		Value    any
		Approved *bool
	}

	// PayloadSessionForked is the payload of a "session:forked" event.
	PayloadSessionForked struct {
		ParentSessionID ids.SessionID
		ForkIndex       int
		InitialState    any
	}

	// PayloadSubscriberLagged is the payload of the hub's internal
	// "hub:subscriber_lagged" event, emitted when a slow subscriber's buffer
	// overflows and its oldest buffered events are dropped; Dropped counts
	// them.
	PayloadSubscriberLagged struct {
		Dropped int
	}
)

// The three reasons a phase can exit.
const (
	PhaseExitNext    PhaseExitReason = "next"
	PhaseExitTerminal PhaseExitReason = "terminal"
	PhaseExitFailure  PhaseExitReason = "failure"
)

// The three InteractionKind values a HITL request may carry.
const (
	KindApproval InteractionKind = "approval"
	KindChoice   InteractionKind = "choice"
	KindFreeform InteractionKind = "freeform"
)

// wireEvent is the canonical JSON shape used for serialization. Payload is
// carried as json.RawMessage so Marshal/Unmarshal round-trip without the
// caller needing to register every payload type with encoding/gob or similar.
type wireEvent struct {
	ID        ids.EventID     `json:"id"`
	Name      Name            `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	CausedBy  *ids.EventID    `json:"causedBy,omitempty"`
}

// Marshal serializes an event to canonical JSON: object keys are emitted in
// sorted order (via Canonicalize) so that byte-identical logs hash identically
// across processes, a precondition for deterministic replay.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	canon, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:        ev.ID,
		Name:      ev.Name,
		Payload:   canon,
		Timestamp: ev.Timestamp,
		CausedBy:  ev.CausedBy,
	})
}

// Unmarshal reconstructs an Event from its canonical JSON form. Payload is
// left as a json.RawMessage-backed map[string]any; callers that need a
// concrete payload type should decode Payload again with json.Unmarshal into
// the relevant Payload* struct.
func Unmarshal(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	var payload any
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return Event{}, err
		}
	}
	return Event{
		ID:        w.ID,
		Name:      w.Name,
		Payload:   payload,
		Timestamp: w.Timestamp,
		CausedBy:  w.CausedBy,
	}, nil
}

// Canonicalize re-encodes a JSON document with object keys sorted
// recursively, empty arrays/objects omitted is NOT performed here (see
// fingerprint.Canonicalize for the stricter form used in hashing); this
// variant only guarantees stable key order, which is all serialization needs
// for round-trip equality.
func Canonicalize(data []byte) ([]byte, error) {
	var v any
	if len(data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(sortKeys(v))
}

// sortKeys recursively converts map[string]any values into a structure whose
// JSON encoding is key-ordered, since Go's encoding/json already marshals
// map[string]any in sorted key order. The recursion exists purely to apply
// that guarantee to nested maps and slices.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sortKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sortKeys(val)
		}
		return out
	default:
		return v
	}
}
