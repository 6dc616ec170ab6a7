package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/dispatch"
	"goa.design/flowkernel/event"
	"goa.design/flowkernel/ids"
)

type recordingObserver struct {
	dispatch.BaseObserver
	started     ids.SessionID
	phases      []string
	agentsStart []string
	agentsDone  []string
	textDeltas  []string
	states      []any
	allEvents   []event.Name
	errs        []error
}

func (o *recordingObserver) OnStarted(id ids.SessionID)         { o.started = id }
func (o *recordingObserver) OnPhaseChanged(phase, from string)  { o.phases = append(o.phases, phase) }
func (o *recordingObserver) OnAgentStarted(agent, phase string) { o.agentsStart = append(o.agentsStart, agent) }
func (o *recordingObserver) OnAgentCompleted(agent string, output any, d int64) {
	o.agentsDone = append(o.agentsDone, agent)
}
func (o *recordingObserver) OnTextDelta(agent, delta string) { o.textDeltas = append(o.textDeltas, delta) }
func (o *recordingObserver) OnStateChanged(state any)        { o.states = append(o.states, state) }
func (o *recordingObserver) OnEvent(ev event.Event)          { o.allEvents = append(o.allEvents, ev.Name) }
func (o *recordingObserver) OnError(err error)               { o.errs = append(o.errs, err) }

func TestDispatchRoutesWorkflowStarted(t *testing.T) {
	obs := &recordingObserver{}
	sid := ids.NewSessionID()
	ev := event.New(event.WorkflowStarted, event.PayloadWorkflowStarted{SessionID: sid, Workflow: "review"})

	require.NoError(t, dispatch.Dispatch(obs, ev))
	assert.Equal(t, sid, obs.started)
	assert.Contains(t, obs.allEvents, event.WorkflowStarted)
}

func TestDispatchRoutesPhaseEnteredNotPhaseExited(t *testing.T) {
	obs := &recordingObserver{}
	entered := event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "review"})
	exited := event.New(event.PhaseExited, event.PayloadPhaseExited{Phase: "review", Reason: event.PhaseExitNext})

	require.NoError(t, dispatch.Dispatch(obs, entered))
	require.NoError(t, dispatch.Dispatch(obs, exited))

	assert.Equal(t, []string{"review"}, obs.phases)
	assert.Contains(t, obs.allEvents, event.PhaseExited, "phase:exited must still reach OnEvent")
}

func TestDispatchInputRequestedOnlyReachesOnEvent(t *testing.T) {
	obs := &recordingObserver{}
	id := ids.NewInteractionID()
	ev := event.New(event.InputRequested, event.PayloadInputRequested{ID: id, Prompt: "approve?"})

	require.NoError(t, dispatch.Dispatch(obs, ev))
	assert.Contains(t, obs.allEvents, event.InputRequested)
	assert.Empty(t, obs.phases)
	assert.Empty(t, obs.agentsStart)
}

func TestDispatchAgentFailedRoutesToOnError(t *testing.T) {
	obs := &recordingObserver{}
	ev := event.New(event.AgentFailed, event.PayloadAgentFailed{Agent: "reviewer", Error: "boom"})

	require.NoError(t, dispatch.Dispatch(obs, ev))
	require.Len(t, obs.errs, 1)
	assert.Contains(t, obs.errs[0].Error(), "boom")
}

func TestDispatchRejectsMismatchedPayload(t *testing.T) {
	obs := &recordingObserver{}
	ev := event.New(event.WorkflowStarted, "not the right payload type")

	err := dispatch.Dispatch(obs, ev)
	require.Error(t, err)
}

func TestDispatchStateIntentAndCheckpointBothNotifyStateChanged(t *testing.T) {
	obs := &recordingObserver{}
	intent := event.New(event.StateIntent, event.PayloadStateIntent{State: map[string]any{"a": 1}})
	checkpoint := event.New(event.StateCheckpoint, event.PayloadStateCheckpoint{State: map[string]any{"a": 2}, Phase: "review"})

	require.NoError(t, dispatch.Dispatch(obs, intent))
	require.NoError(t, dispatch.Dispatch(obs, checkpoint))

	require.Len(t, obs.states, 2)
	assert.Equal(t, map[string]any{"a": 1}, obs.states[0])
	assert.Equal(t, map[string]any{"a": 2}, obs.states[1])
}
