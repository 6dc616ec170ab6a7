package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/flowkernel/ids"
)

func TestNewSessionIDUnique(t *testing.T) {
	a, b := ids.NewSessionID(), ids.NewSessionID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestNewEventIDUnique(t *testing.T) {
	seen := make(map[ids.EventID]bool)
	for i := 0; i < 1000; i++ {
		id := ids.NewEventID()
		assert.False(t, seen[id], "duplicate event id minted")
		seen[id] = true
	}
}

func TestNewInteractionAndRecordingID(t *testing.T) {
	assert.NotEqual(t, ids.NewInteractionID(), ids.NewInteractionID())
	assert.NotEqual(t, ids.NewRecordingID(), ids.NewRecordingID())
}
