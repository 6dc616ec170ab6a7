// Package recorder implements the content-addressed provider recording
// cache: a live execution tees its stream through the recorder and the
// result is filed under the request's fingerprint; a later playback execution
// with the same fingerprint replays the recorded stream and never calls the
// provider.
package recorder

import (
	"context"
	"fmt"
	"sync"

	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/workflowerr"
)

// Entry is one finalized recording, keyed by its fingerprint.
type Entry struct {
	Fingerprint string
	Events      []provider.StreamEvent
	Output      any
	Text        string
	StopReason  string
}

// Store persists finalized Entry values, content-addressed by fingerprint.
// Package recorder/memory and recorder/filetree are reference
// implementations; any get/put/delete/list-capable backend qualifies.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Delete(ctx context.Context, fingerprint string) error
	List(ctx context.Context) ([]string, error)
}

// Recorder mediates between the executor and a Store, tracking in-flight
// recordings by RecordingID until they are finalized and filed under their
// fingerprint.
type Recorder struct {
	store Store

	mu      sync.Mutex
	inFlight map[ids.RecordingID]*inFlightRecording
}

type inFlightRecording struct {
	fingerprint string
	events      []provider.StreamEvent
}

// New constructs a Recorder backed by store.
func New(store Store) *Recorder {
	return &Recorder{store: store, inFlight: make(map[ids.RecordingID]*inFlightRecording)}
}

// StartRecording begins taping a live stream for fingerprint and returns a
// handle used by AppendEvent/FinalizeRecording.
func (r *Recorder) StartRecording(fingerprint string) ids.RecordingID {
	id := ids.NewRecordingID()
	r.mu.Lock()
	r.inFlight[id] = &inFlightRecording{fingerprint: fingerprint}
	r.mu.Unlock()
	return id
}

// AppendEvent tapes one more stream event onto an in-flight recording, in
// order.
func (r *Recorder) AppendEvent(recordingID ids.RecordingID, ev provider.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.inFlight[recordingID]
	if !ok {
		return fmt.Errorf("recorder: unknown recording %s", recordingID)
	}
	rec.events = append(rec.events, ev)
	return nil
}

// FinalizeRecording completes a recording with its terminal result and files
// it under its fingerprint, persisting it for future playback.
func (r *Recorder) FinalizeRecording(ctx context.Context, recordingID ids.RecordingID, result provider.Result) error {
	r.mu.Lock()
	rec, ok := r.inFlight[recordingID]
	if ok {
		delete(r.inFlight, recordingID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("recorder: unknown recording %s", recordingID)
	}

	entry := Entry{
		Fingerprint: rec.fingerprint,
		Events:      rec.events,
		Output:      result.Output,
		Text:        result.Text,
		StopReason:  result.StopReason,
	}
	return r.store.Put(ctx, entry)
}

// Load consults the store for a cached recording. Returns (nil, nil) on a
// miss; callers (typically the executor in strict playback mode) turn a miss
// into workflowerr.ErrRecordingNotFound themselves, since a miss is only
// fatal in that specific mode.
func (r *Recorder) Load(ctx context.Context, fingerprint string) (*Entry, error) {
	entry, err := r.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	return entry, nil
}

// Delete removes a cached recording.
func (r *Recorder) Delete(ctx context.Context, fingerprint string) error {
	return r.store.Delete(ctx, fingerprint)
}

// List returns every fingerprint currently cached.
func (r *Recorder) List(ctx context.Context) ([]string, error) {
	return r.store.List(ctx)
}
