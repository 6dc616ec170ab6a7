// Package replay reconstructs a session's state and pending HITL interactions
// from its persisted event log, without re-running any agent or provider
// call. It is the kernel's only recovery mechanism: resuming a session always
// goes through Replay first, never through re-simulating prior phases.
package replay

import (
	"context"
	"fmt"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/hitl"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/patch"
	"goa.design/flowkernel/workflowerr"
)

// Result is what Replay reconstructs from a session's log.
type Result struct {
	State          any
	Position       int
	Pending        []ids.InteractionID
	ResumePhase    string
	WorkflowName   string
	OriginalInput  any

	// Intents is every state:intent recorded for the session, oldest first.
	// RewindTo walks this list backward to step execution to an earlier
	// state without needing to re-run any agent or provider call.
	Intents []IntentRecord
}

// IntentRecord is one state:intent event's identity and inverse patch set,
// retained so a completed Replay can still be stepped backward afterward.
// Phase is whichever phase was active (per the most recent phase:entered)
// when this intent was recorded, so RewindTo can resume at the phase the
// workflow was actually in rather than the phase active at the log's head.
type IntentRecord struct {
	ID      ids.IntentID
	Inverse []patch.Patch
	Phase   string
}

// Replay loads every event recorded for sessionID and reconstructs the state
// a resumed runtime should start from, the number of events recorded (which
// is the zero-based position the next appended event takes), and the set of
// HITL interactions still awaiting a response.
func Replay(ctx context.Context, store eventstore.EventStore, sessionID ids.SessionID) (Result, error) {
	events, err := store.GetAll(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("replay: load session %s: %w", sessionID, err)
	}

	var (
		state        any
		resumePhase  string
		workflowName string
		input        any
		intents      []IntentRecord
	)

	for _, ev := range events {
		switch ev.Name {
		case event.WorkflowStarted:
			p, ok := ev.Payload.(event.PayloadWorkflowStarted)
			if !ok {
				return Result{}, payloadErr(ev)
			}
			workflowName = p.Workflow
			input = p.Input

		case event.PhaseEntered:
			p, ok := ev.Payload.(event.PayloadPhaseEntered)
			if !ok {
				return Result{}, payloadErr(ev)
			}
			resumePhase = p.Phase

		case event.StateIntent:
			p, ok := ev.Payload.(event.PayloadStateIntent)
			if !ok {
				return Result{}, payloadErr(ev)
			}
			state, err = applyOrAdopt(state, p.State, p.Patches)
			if err != nil {
				return Result{}, fmt.Errorf("replay: apply state:intent: %w", err)
			}
			if inv, ok := p.InversePatches.([]patch.Patch); ok && p.IntentID != "" {
				intents = append(intents, IntentRecord{ID: p.IntentID, Inverse: inv, Phase: resumePhase})
			}

		case event.StateCheckpoint:
			p, ok := ev.Payload.(event.PayloadStateCheckpoint)
			if !ok {
				return Result{}, payloadErr(ev)
			}
			state = p.State
			resumePhase = p.Phase
		}
	}

	pending := hitl.PendingInteractions(events)

	return Result{
		State:         state,
		Position:      len(events),
		Pending:       pending,
		ResumePhase:   resumePhase,
		WorkflowName:  workflowName,
		OriginalInput: input,
		Intents:       intents,
	}, nil
}

// RewindTo steps result's state backward to the point immediately after
// targetIntentID was recorded, by applying the inverse patches of every
// later intent in reverse chronological order. It never re-runs an agent or
// provider call — the stepped-back state is derived purely from the
// patches the forward execution already recorded. The returned phase is the
// phase that was active when targetIntentID was recorded, so a caller can
// resume the workflow there rather than at the phase active at the log's
// head. Returns workflowerr.ErrWorkflowMisconfigured if targetIntentID was
// never recorded for this session, or if any intent between it and the head
// recorded no inverse patches (an adopt-only state:intent cannot be undone).
func RewindTo(result Result, targetIntentID ids.IntentID) (state any, phase string, err error) {
	idx := -1
	for i, rec := range result.Intents {
		if rec.ID == targetIntentID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, "", fmt.Errorf("%w: intent %s not found in session history", workflowerr.ErrWorkflowMisconfigured, targetIntentID)
	}

	state = result.State
	for i := len(result.Intents) - 1; i > idx; i-- {
		rec := result.Intents[i]
		if len(rec.Inverse) == 0 {
			return nil, "", fmt.Errorf("%w: intent %s recorded no inverse patches, cannot step backward past it", workflowerr.ErrWorkflowMisconfigured, rec.ID)
		}
		state, err = patch.Apply(state, rec.Inverse)
		if err != nil {
			return nil, "", fmt.Errorf("replay: apply inverse for intent %s: %w", rec.ID, err)
		}
	}
	return state, result.Intents[idx].Phase, nil
}

// applyOrAdopt prefers the fast path of re-applying persisted forward patches
// over the prior state; a state:intent with no patches recorded (patches is
// nil because the producer chose not to carry them) falls back to simply
// adopting the event's full state snapshot.
func applyOrAdopt(prior any, fullState any, patches any) (any, error) {
	forward, ok := patches.([]patch.Patch)
	if !ok || len(forward) == 0 {
		return fullState, nil
	}
	return patch.Apply(prior, forward)
}

func payloadErr(ev event.Event) error {
	return fmt.Errorf("replay: event %q has unexpected payload type %T", ev.Name, ev.Payload)
}
