package replay_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore/memory"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/replay"
)

func TestReplayReconstructsStateAndResumePhase(t *testing.T) {
	store := memory.New()
	sid := ids.NewSessionID()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, sid, event.New(event.WorkflowStarted, event.PayloadWorkflowStarted{SessionID: sid, Workflow: "review"})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "draft"})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.StateIntent, event.PayloadStateIntent{State: map[string]any{"score": 1.0}})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.PhaseExited, event.PayloadPhaseExited{Phase: "draft", Reason: event.PhaseExitNext})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.StateCheckpoint, event.PayloadStateCheckpoint{State: map[string]any{"score": 1.0}, Phase: "draft", Position: 4})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "finalize", FromPhase: "draft"})))

	result, err := replay.Replay(ctx, store, sid)
	require.NoError(t, err)
	assert.Equal(t, "finalize", result.ResumePhase)
	assert.Equal(t, "review", result.WorkflowName)
	assert.Equal(t, map[string]any{"score": 1.0}, result.State)
	assert.Equal(t, 6, result.Position)
	assert.Empty(t, result.Pending)
}

func TestReplaySurfacesPendingInteractions(t *testing.T) {
	store := memory.New()
	sid := ids.NewSessionID()
	ctx := context.Background()
	id := ids.NewInteractionID()

	require.NoError(t, store.Append(ctx, sid, event.New(event.WorkflowStarted, event.PayloadWorkflowStarted{SessionID: sid})))
	require.NoError(t, store.Append(ctx, sid, event.New(event.InputRequested, event.PayloadInputRequested{ID: id, Prompt: "approve?"})))

	result, err := replay.Replay(ctx, store, sid)
	require.NoError(t, err)
	assert.Equal(t, []ids.InteractionID{id}, result.Pending)
}

func TestReplayUnknownSessionReturnsEmptyResult(t *testing.T) {
	store := memory.New()
	result, err := replay.Replay(context.Background(), store, ids.NewSessionID())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Position)
	assert.Nil(t, result.State)
}
