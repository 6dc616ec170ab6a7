// Package dispatch bridges the kernel's event log to a typed observer
// protocol. Dispatch switches over event.Name with one case per name the
// event package declares. The compiler does not check that switch for
// exhaustiveness: a name added to the event package without a matching case
// here reaches the default case, and Dispatch returns an error for it rather
// than silently dropping the event.
package dispatch

import (
	"fmt"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/ids"
)

// Observer receives typed callbacks as a session's event log advances. Any
// subset of the interface may be embedded via BaseObserver and overridden; an
// observer that implements none of them still compiles.
type Observer interface {
	// OnStarted fires once, when the session's workflow:started event is
	// dispatched.
	OnStarted(sessionID ids.SessionID)
	// OnPhaseChanged fires on phase:entered. fromPhase is empty for the
	// workflow's first phase.
	OnPhaseChanged(phase, fromPhase string)
	// OnAgentStarted fires on agent:started.
	OnAgentStarted(agent, phase string)
	// OnAgentCompleted fires on agent:completed.
	OnAgentCompleted(agent string, output any, durationMs int64)
	// OnStateChanged fires on state:intent and state:checkpoint alike; state
	// is always the full post-mutation value.
	OnStateChanged(state any)
	// OnTextDelta fires on text:delta.
	OnTextDelta(agent, delta string)
	// OnThinkingDelta fires on thinking:delta.
	OnThinkingDelta(agent, delta string)
	// OnToolCalled fires on tool:called.
	OnToolCalled(agent, toolID, toolName string, input any)
	// OnToolResult fires on tool:result.
	OnToolResult(agent, toolID string, output any, isError bool)
	// OnInputRequested is invoked directly by the runtime when a HITL
	// request is raised — not through Dispatch, since input:requested is an
	// internal-only event. An observer that can answer the request itself
	// returns (value, true); the runtime then responds on the observer's
	// behalf instead of waiting for an external caller.
	OnInputRequested(req event.PayloadInputRequested) (value any, handled bool)
	// OnEvent is invoked for every event unconditionally, including the
	// internal-only ones no other callback sees.
	OnEvent(ev event.Event)
	// OnError is invoked once when a session aborts or fails fatally.
	OnError(err error)
	// OnCompleted is invoked once at workflow end with the final outcome,
	// not per workflow:completed event.
	OnCompleted(finalState any, exitPhase string, durationMs int64)
}

// BaseObserver is a no-op Observer embeddable by callers who only care about
// a handful of callbacks.
type BaseObserver struct{}

func (BaseObserver) OnStarted(ids.SessionID)                                  {}
func (BaseObserver) OnPhaseChanged(string, string)                            {}
func (BaseObserver) OnAgentStarted(string, string)                            {}
func (BaseObserver) OnAgentCompleted(string, any, int64)                      {}
func (BaseObserver) OnStateChanged(any)                                       {}
func (BaseObserver) OnTextDelta(string, string)                               {}
func (BaseObserver) OnThinkingDelta(string, string)                           {}
func (BaseObserver) OnToolCalled(string, string, string, any)                 {}
func (BaseObserver) OnToolResult(string, string, any, bool)                   {}
func (BaseObserver) OnInputRequested(event.PayloadInputRequested) (any, bool) { return nil, false }
func (BaseObserver) OnEvent(event.Event)                                      {}
func (BaseObserver) OnError(error)                                            {}
func (BaseObserver) OnCompleted(any, string, int64)                           {}

var _ Observer = BaseObserver{}

// Dispatch delivers ev to observer. OnEvent always fires first; the
// event-specific callback (if any) follows. session:forked, phase:exited,
// input:requested, and input:received are internal-only: OnEvent is the only
// callback that sees them.
func Dispatch(observer Observer, ev event.Event) error {
	observer.OnEvent(ev)

	switch ev.Name {
	case event.WorkflowStarted:
		p, ok := ev.Payload.(event.PayloadWorkflowStarted)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnStarted(p.SessionID)

	case event.WorkflowCompleted:
		// Handled once by the runtime at session end via OnCompleted, not
		// here, so a replayed log does not double-fire it.

	case event.WorkflowAborted:
		p, ok := ev.Payload.(event.PayloadWorkflowAborted)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnError(fmt.Errorf("%s", p.Reason))

	case event.PhaseEntered:
		p, ok := ev.Payload.(event.PayloadPhaseEntered)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnPhaseChanged(p.Phase, p.FromPhase)

	case event.PhaseExited:
		// Internal-only: OnEvent above already saw it.

	case event.AgentStarted:
		p, ok := ev.Payload.(event.PayloadAgentStarted)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnAgentStarted(p.Agent, p.Phase)

	case event.AgentCompleted:
		p, ok := ev.Payload.(event.PayloadAgentCompleted)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnAgentCompleted(p.Agent, p.Output, p.DurationMs)

	case event.AgentFailed:
		p, ok := ev.Payload.(event.PayloadAgentFailed)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnError(fmt.Errorf("agent %s: %s", p.Agent, p.Error))

	case event.TextDelta:
		p, ok := ev.Payload.(event.PayloadTextDelta)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnTextDelta(p.AgentName, p.Delta)

	case event.ThinkingDelta:
		p, ok := ev.Payload.(event.PayloadThinkingDelta)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnThinkingDelta(p.AgentName, p.Delta)

	case event.ToolCalled:
		p, ok := ev.Payload.(event.PayloadToolCalled)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnToolCalled(p.AgentName, p.ToolID, p.ToolName, p.Input)

	case event.ToolResult:
		p, ok := ev.Payload.(event.PayloadToolResult)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnToolResult(p.AgentName, p.ToolID, p.Output, p.IsError)

	case event.StateIntent:
		p, ok := ev.Payload.(event.PayloadStateIntent)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnStateChanged(p.State)

	case event.StateCheckpoint:
		p, ok := ev.Payload.(event.PayloadStateCheckpoint)
		if !ok {
			return payloadErr(ev)
		}
		observer.OnStateChanged(p.State)

	case event.InputRequested, event.InputReceived, event.SessionForked, event.SubscriberLagged:
		// Internal-only (or hub-internal): OnEvent above already saw it.

	default:
		return fmt.Errorf("dispatch: unhandled event name %q", ev.Name)
	}
	return nil
}

func payloadErr(ev event.Event) error {
	return fmt.Errorf("dispatch: event %q has unexpected payload type %T", ev.Name, ev.Payload)
}
