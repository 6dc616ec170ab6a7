package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/eventstore/memory"
	"goa.design/flowkernel/eventstore/sqlite"
	"goa.design/flowkernel/ids"
)

// backends exercises every EventStore reference implementation against the
// same conformance suite, so the memory and sqlite backends are held to
// identical behavior.
func backends(t *testing.T) map[string]eventstore.EventStore {
	t.Helper()
	sq, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]eventstore.EventStore{
		"memory": memory.New(),
		"sqlite": sq,
	}
}

func TestEventStoreConformance(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sid := ids.NewSessionID()

			unknown, err := store.GetAll(ctx, ids.NewSessionID())
			require.NoError(t, err)
			assert.Empty(t, unknown)

			e1 := event.New(event.WorkflowStarted, event.PayloadWorkflowStarted{SessionID: sid, Workflow: "demo"})
			e2 := event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "review"})
			require.NoError(t, store.Append(ctx, sid, e1))
			require.NoError(t, store.Append(ctx, sid, e2))

			all, err := store.GetAll(ctx, sid)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, event.WorkflowStarted, all[0].Name)
			assert.Equal(t, event.PhaseEntered, all[1].Name)

			from1, err := store.GetFrom(ctx, sid, 1)
			require.NoError(t, err)
			require.Len(t, from1, 1)
			assert.Equal(t, event.PhaseEntered, from1[0].Name)

			sessions, err := store.ListSessions(ctx)
			require.NoError(t, err)
			assert.Contains(t, sessions, sid)

			require.NoError(t, store.DeleteSession(ctx, sid))
			err = store.DeleteSession(ctx, sid)
			assert.Error(t, err)

			gone, err := store.GetAll(ctx, sid)
			require.NoError(t, err)
			assert.Empty(t, gone)
		})
	}
}

func TestEventStoreRoundTripSerialization(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sid := ids.NewSessionID()
			original := event.New(event.AgentCompleted, event.PayloadAgentCompleted{
				Agent:      "reviewer",
				Output:     map[string]any{"score": 85.0},
				DurationMs: 42,
			})
			require.NoError(t, store.Append(ctx, sid, original))

			all, err := store.GetAll(ctx, sid)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, original.ID, all[0].ID)
			assert.Equal(t, original.Name, all[0].Name)
		})
	}
}
