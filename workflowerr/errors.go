// Package workflowerr defines the sentinel error taxonomy raised at the
// kernel's public boundaries. Components wrap these with fmt.Errorf("%w: ...")
// so callers can branch with errors.Is regardless of which layer produced the
// failure.
package workflowerr

import "errors"

var (
	// ErrOutputInvalid indicates an agent's output failed schema validation.
	// The scheduler does not consult the phase's Until policy on this error:
	// Run returns it and the session ends.
	ErrOutputInvalid = errors.New("agent output failed schema validation")

	// ErrProviderUnavailable indicates a transient provider failure (network,
	// auth). Retried with backoff up to a bound; fatal once exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRecordingNotFound indicates a playback-mode fingerprint miss in strict
	// mode. Fatal to the execution.
	ErrRecordingNotFound = errors.New("recording not found for fingerprint")

	// ErrStoreUnavailable indicates an event-persistence I/O failure. Fatal;
	// the workflow aborts and OnError is invoked.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrSessionNotFound is returned by store operations that require an
	// existing session (e.g. DeleteSession) when the session is unknown. Plain
	// reads (GetAll, GetFrom) do NOT return this error for an unknown session;
	// they return an empty slice, by design.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkflowMisconfigured indicates a structural error in a workflow
	// definition: unknown next-phase, duplicate or empty phase set, or a phase
	// set with no terminal phase. Fatal at construction or first encounter.
	ErrWorkflowMisconfigured = errors.New("workflow misconfigured")

	// ErrPhaseLoopBudget indicates a phase exceeded its configured maximum
	// iteration count. Fatal to the phase; the workflow aborts.
	ErrPhaseLoopBudget = errors.New("phase exceeded loop budget")

	// ErrPhaseTimeout names a phase exceeding its configured timeout. No
	// package in this module returns it: scheduler.Run does not read
	// Phase.Timeout.
	ErrPhaseTimeout = errors.New("phase timed out")

	// ErrAborted indicates the execution was stopped by a caller-invoked
	// Abort() (or by cancellation of the session's context). The Outcome
	// resolves with Completed: false and Err wrapping ErrAborted, a
	// workflow:aborted event is appended, and observers receive the error
	// through OnError.
	ErrAborted = errors.New("workflow aborted")
)
