// Package anthropic provides a reference provider.Provider implementation
// backed by the Anthropic Claude Messages API. It translates kernel
// provider.Request values into sdk.MessageNewParams calls and maps the
// resulting SSE stream back into provider.StreamEvent values. It is not
// required by the kernel — executor only depends on provider.Provider — but
// demonstrates wiring a real model SDK behind that interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/flowkernel/provider"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, so tests can substitute a stub in place of *sdk.MessageService.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Provider adapts an Anthropic Messages client to provider.Provider.
type Provider struct {
	client    MessagesClient
	model     sdk.Model
	maxTokens int64
}

// New constructs a Provider bound to the given Anthropic model identifier.
// maxTokens caps each call's completion length and is required by the
// Anthropic Messages API.
func New(client MessagesClient, model sdk.Model, maxTokens int64) (*Provider, error) {
	if client == nil {
		return nil, errors.New("anthropic: client is required")
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: maxTokens must be positive")
	}
	return &Provider{client: client, model: model, maxTokens: maxTokens}, nil
}

// Model returns the configured Anthropic model identifier.
func (p *Provider) Model() string { return string(p.model) }

// Stream issues a streaming Messages call for req and adapts the resulting
// SSE stream into a provider.StreamIterator.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.StreamIterator, error) {
	text, ok := req.Prompt.(string)
	if !ok {
		raw, err := json.Marshal(req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("anthropic: encode prompt: %w", err)
		}
		text = string(raw)
	}

	params := sdk.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
	}

	stream := p.client.NewStreaming(ctx, params)
	return &streamIterator{stream: stream}, nil
}

// streamIterator adapts the Anthropic SDK's SSE stream to
// provider.StreamIterator, mapping each delta event to the matching kernel
// StreamEvent kind and synthesizing a terminal Result once the stream ends.
type streamIterator struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	text   string
	done   bool
}

// Next advances the underlying SSE stream by one event.
func (it *streamIterator) Next(ctx context.Context) (provider.StreamEvent, bool, error) {
	if it.done {
		return provider.StreamEvent{}, false, nil
	}
	if ctx.Err() != nil {
		return provider.StreamEvent{}, false, ctx.Err()
	}
	if !it.stream.Next() {
		it.done = true
		if err := it.stream.Err(); err != nil {
			return provider.StreamEvent{}, false, fmt.Errorf("anthropic: stream: %w", err)
		}
		return provider.StreamEvent{
			Kind:   provider.KindResult,
			Result: &provider.Result{Text: it.text, StopReason: "end_turn"},
		}, true, nil
	}

	ev := it.stream.Current()
	switch variant := ev.AsAny().(type) {
	case sdk.ContentBlockDeltaEvent:
		if delta, ok := variant.Delta.AsAny().(sdk.TextDelta); ok {
			it.text += delta.Text
			return provider.StreamEvent{Kind: provider.KindTextDelta, Delta: delta.Text}, true, nil
		}
		if delta, ok := variant.Delta.AsAny().(sdk.ThinkingDelta); ok {
			return provider.StreamEvent{Kind: provider.KindThinkingDelta, Delta: delta.Thinking}, true, nil
		}
	}
	// Any other SSE variant (message_start, content_block_start/stop,
	// message_delta, message_stop, ping) carries no kernel-visible payload;
	// recurse to the next underlying event rather than surfacing a no-op.
	return it.Next(ctx)
}
