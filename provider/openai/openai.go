// Package openai provides a second reference provider.Provider implementation,
// backed by the OpenAI Chat Completions API, so the kernel is demonstrably not
// coupled to a single model vendor's wire shape. Like package provider/anthropic
// it adapts a vendor SDK's streaming response into provider.StreamEvent values;
// the kernel itself never imports this package.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/flowkernel/provider"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter, so
// tests can substitute a stub in place of *sdk.ChatCompletionService.
type ChatClient interface {
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Provider adapts an OpenAI chat completions client to provider.Provider.
type Provider struct {
	client ChatClient
	model  sdk.ChatModel
}

// New constructs a Provider bound to the given OpenAI model identifier.
func New(client ChatClient, model sdk.ChatModel) (*Provider, error) {
	if client == nil {
		return nil, errors.New("openai: client is required")
	}
	return &Provider{client: client, model: model}, nil
}

// Model returns the configured OpenAI model identifier.
func (p *Provider) Model() string { return string(p.model) }

// Stream issues a streaming chat completion call for req and adapts the
// resulting SSE stream into a provider.StreamIterator.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.StreamIterator, error) {
	text, ok := req.Prompt.(string)
	if !ok {
		raw, err := json.Marshal(req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("openai: encode prompt: %w", err)
		}
		text = string(raw)
	}

	params := sdk.ChatCompletionNewParams{
		Model: p.model,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(text),
		},
	}

	stream := p.client.NewStreaming(ctx, params)
	return &streamIterator{stream: stream}, nil
}

// streamIterator adapts the OpenAI SDK's chunked SSE stream to
// provider.StreamIterator, accumulating each chunk's delta content and
// synthesizing a terminal Result once the stream ends.
type streamIterator struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
	text   string
	done   bool
}

// Next advances the underlying SSE stream by one chunk.
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
			return provider.StreamEvent{}, false, fmt.Errorf("openai: stream: %w", err)
		}
		return provider.StreamEvent{
			Kind:   provider.KindResult,
			Result: &provider.Result{Text: it.text, StopReason: "stop"},
		}, true, nil
	}

	chunk := it.stream.Current()
	if len(chunk.Choices) == 0 {
		return it.Next(ctx)
	}
	delta := chunk.Choices[0].Delta.Content
	if delta == "" {
		return it.Next(ctx)
	}
	it.text += delta
	return provider.StreamEvent{Kind: provider.KindTextDelta, Delta: delta}, true, nil
}
