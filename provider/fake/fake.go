// Package fake provides an in-repo Provider implementation for tests and for
// the workflowctl demo command. It never makes a network call; responses are
// scripted by the caller.
package fake

import (
	"context"
	"sync"

	"goa.design/flowkernel/provider"
)

// Responder computes a scripted Result for a given Request. It runs once per
// Stream call; returning a non-nil error fails that call with
// workflowerr.ErrProviderUnavailable semantics (the executor wraps it).
type Responder func(req provider.Request) (provider.Result, error)

// Provider is a scriptable provider.Provider: each call to Stream invokes the
// Responder to compute a terminal Result, then synthesizes a minimal stream
// (a single TextDelta carrying the result's text, followed by the Result
// event) so executor tests exercise the same mapping real providers do.
type Provider struct {
	model     string
	responder Responder

	mu    sync.Mutex
	calls int
}

// New constructs a fake provider that reports model as its Model() and
// computes each call's outcome via responder.
func New(model string, responder Responder) *Provider {
	return &Provider{model: model, responder: responder}
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// Calls returns how many times Stream has been invoked, for assertions about
// retry counts and until-loop iteration counts.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Stream computes the scripted Result and returns a two-event iterator:
// a TextDelta (if Result.Text is non-empty) followed by the Result itself.
func (p *Provider) Stream(_ context.Context, req provider.Request) (provider.StreamIterator, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	result, err := p.responder(req)
	if err != nil {
		return nil, err
	}

	events := make([]provider.StreamEvent, 0, 2)
	if result.Text != "" {
		events = append(events, provider.StreamEvent{Kind: provider.KindTextDelta, Delta: result.Text})
	}
	events = append(events, provider.StreamEvent{Kind: provider.KindResult, Result: &result})
	return &iterator{events: events}, nil
}

type iterator struct {
	events []provider.StreamEvent
	pos    int
}

// Next returns the next scripted event, or false once exhausted.
func (it *iterator) Next(ctx context.Context) (provider.StreamEvent, bool, error) {
	if ctx.Err() != nil {
		return provider.StreamEvent{}, false, ctx.Err()
	}
	if it.pos >= len(it.events) {
		return provider.StreamEvent{}, false, nil
	}
	ev := it.events[it.pos]
	it.pos++
	return ev, true, nil
}
