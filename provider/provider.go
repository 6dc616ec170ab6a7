// Package provider defines the interface the Agent Executor consumes to call
// a language model. The kernel treats Provider as an external collaborator:
// concrete adapters (package provider/anthropic, provider/openai) and the
// in-repo provider/fake used for tests are all equally valid implementations.
package provider

import "context"

// Request is the canonical shape of one provider call, independent of which
// concrete SDK eventually serves it.
type Request struct {
	// Prompt is the agent-constructed prompt payload (typically a message
	// list, but left opaque here).
	Prompt any
	// Options carries provider-specific knobs (temperature, max tokens, ...).
	Options any
	// Tools lists the tool definitions available to the model, if any.
	Tools any
	// OutputSchema is the structural definition of the expected output shape,
	// used both for provider-side structured output and for fingerprinting.
	OutputSchema any
}

// Provider streams a model response for a Request. Implementations must
// return a StreamIterator that can be consumed exactly once; a second call to
// Next after exhaustion returns (StreamEvent{}, false, nil), while after the
// call's context is canceled an implementation may keep returning the
// context's error.
type Provider interface {
	// Model returns the canonical model identifier this provider targets
	// (e.g. "claude-sonnet-4-5"), used as part of the fingerprint so that
	// switching models invalidates cached recordings.
	Model() string

	// Stream begins a streaming call and returns an iterator over its events.
	// The call itself may be lazy: implementations are free to defer the
	// actual network request until the first Next call.
	Stream(ctx context.Context, req Request) (StreamIterator, error)
}

// StreamIterator yields StreamEvent values in order until exhausted. It is a
// lazy, finite, non-restartable sequence: once Next returns false, the
// iterator must not be reused.
type StreamIterator interface {
	// Next advances the iterator. It returns false once the stream is
	// exhausted (including via context cancellation), at which point err
	// holds any terminal error (nil on a clean end-of-stream).
	Next(ctx context.Context) (StreamEvent, bool, error)
}

// Kind identifies the shape of a StreamEvent's payload.
type Kind string

// The stream event kinds a Provider may emit. Only the first four map to
// internal kernel events (see package executor); the rest are consumed
// internally by the executor and never surfaced.
const (
	KindTextDelta       Kind = "text_delta"
	KindThinkingDelta   Kind = "thinking_delta"
	KindToolCall        Kind = "tool_call"
	KindToolResult      Kind = "tool_result"
	KindTextComplete    Kind = "text_complete"
	KindThinkingComplete Kind = "thinking_complete"
	KindResult          Kind = "result"
	KindStop            Kind = "stop"
	KindUsage           Kind = "usage"
	KindSessionInit     Kind = "session_init"
)

// StreamEvent is one unit of a provider's streaming response. Only the
// fields relevant to Kind are populated; the rest are zero.
type StreamEvent struct {
	Kind Kind

	// Delta carries TextDelta / ThinkingDelta content.
	Delta string

	// ToolID / ToolName / Input describe a ToolCall; ToolID / Output /
	// IsError describe the matching ToolResult.
	ToolID   string
	ToolName string
	Input    any
	Output   any
	IsError  bool

	// Result carries the terminal structured output, aggregate text, and
	// stop reason, delivered once per stream as the final StreamEvent before
	// exhaustion.
	Result *Result

	// InputTokens / OutputTokens populate a Usage event.
	InputTokens  int
	OutputTokens int
}

// Result is the terminal payload of a completed provider stream.
type Result struct {
	// Output is the raw, not-yet-schema-parsed structured output returned by
	// the model (typically decoded JSON).
	Output any
	// Text is the aggregate visible text produced across the stream.
	Text string
	// StopReason is the provider's reason the stream ended (e.g.
	// "end_turn", "max_tokens", "tool_use").
	StopReason string
}
