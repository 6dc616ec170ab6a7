// Package bedrock provides a reference provider.Provider implementation
// backed by the AWS Bedrock Converse API. Like provider/anthropic and
// provider/openai it is not required by the kernel — executor only depends
// on provider.Provider — but demonstrates wiring a third real model SDK,
// with its own request/response shapes, behind the same interface.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/flowkernel/provider"
)

// RuntimeClient captures the subset of the AWS Bedrock runtime client used by
// this adapter, matching *bedrockruntime.Client so callers can pass either
// the real client or a stub in tests.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Provider adapts an AWS Bedrock Converse runtime client to provider.Provider.
type Provider struct {
	runtime   RuntimeClient
	model     string
	maxTokens int32
}

// New constructs a Provider bound to the given Bedrock model identifier (for
// example "anthropic.claude-3-5-sonnet-20241022-v2:0"). maxTokens caps each
// call's completion length; zero lets Bedrock apply its own default.
func New(runtime RuntimeClient, model string, maxTokens int32) (*Provider, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Provider{runtime: runtime, model: model, maxTokens: maxTokens}, nil
}

// Model returns the configured Bedrock model identifier.
func (p *Provider) Model() string { return p.model }

// Stream issues a ConverseStream call for req and adapts the resulting event
// stream into a provider.StreamIterator.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.StreamIterator, error) {
	text, ok := req.Prompt.(string)
	if !ok {
		raw, err := json.Marshal(req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("bedrock: encode prompt: %w", err)
		}
		text = string(raw)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(p.model),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
	}
	if p.maxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(p.maxTokens)}
	}

	out, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("bedrock: rate limited: %w", err)
		}
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return &streamIterator{
		stream:   stream,
		events:   stream.Events(),
		toolArgs: map[int32]*strings.Builder{},
		toolMeta: map[int32]toolUse{},
	}, nil
}

// isRateLimited mirrors the teacher's own throttling detection: both HTTP 429
// and Bedrock's ThrottlingException count as rate limited.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

type toolUse struct {
	id   string
	name string
}

// streamIterator adapts a Bedrock ConverseStreamEventStream to
// provider.StreamIterator. Tool-call fragments are buffered per content-block
// index and surfaced as a single KindToolCall once the block closes, since
// provider.Kind has no incremental tool-call-delta variant of its own.
type streamIterator struct {
	stream   *bedrockruntime.ConverseStreamEventStream
	events   <-chan brtypes.ConverseStreamOutput
	text     string
	toolArgs map[int32]*strings.Builder
	toolMeta map[int32]toolUse
	done     bool
}

func (it *streamIterator) Next(ctx context.Context) (provider.StreamEvent, bool, error) {
	if it.done {
		return provider.StreamEvent{}, false, nil
	}
	if ctx.Err() != nil {
		it.done = true
		return provider.StreamEvent{}, false, ctx.Err()
	}

	select {
	case <-ctx.Done():
		it.done = true
		return provider.StreamEvent{}, false, ctx.Err()
	case ev, ok := <-it.events:
		if !ok {
			it.done = true
			if err := it.stream.Err(); err != nil {
				return provider.StreamEvent{}, false, fmt.Errorf("bedrock: stream: %w", err)
			}
			return provider.StreamEvent{
				Kind:   provider.KindResult,
				Result: &provider.Result{Text: it.text, StopReason: "end_turn"},
			}, true, nil
		}
		se, emit, err := it.handle(ev)
		if err != nil {
			it.done = true
			return provider.StreamEvent{}, false, err
		}
		if !emit {
			return it.Next(ctx)
		}
		return se, true, nil
	}
}

func (it *streamIterator) handle(ev brtypes.ConverseStreamOutput) (provider.StreamEvent, bool, error) {
	switch v := ev.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := blockIndex(v.Value.ContentBlockIndex)
		if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			if start.Value.ToolUseId == nil || *start.Value.ToolUseId == "" {
				return provider.StreamEvent{}, false, fmt.Errorf("bedrock: tool_use block missing tool_use_id")
			}
			if start.Value.Name == nil || *start.Value.Name == "" {
				return provider.StreamEvent{}, false, fmt.Errorf("bedrock: tool_use block missing name")
			}
			it.toolMeta[idx] = toolUse{id: *start.Value.ToolUseId, name: *start.Value.Name}
			it.toolArgs[idx] = &strings.Builder{}
		}
		return provider.StreamEvent{}, false, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := blockIndex(v.Value.ContentBlockIndex)
		switch d := v.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if d.Value == "" {
				return provider.StreamEvent{}, false, nil
			}
			it.text += d.Value
			return provider.StreamEvent{Kind: provider.KindTextDelta, Delta: d.Value}, true, nil
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if text, ok := d.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
				return provider.StreamEvent{Kind: provider.KindThinkingDelta, Delta: text.Value}, true, nil
			}
			return provider.StreamEvent{}, false, nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if b := it.toolArgs[idx]; b != nil && d.Value.Input != nil {
				b.WriteString(*d.Value.Input)
			}
			return provider.StreamEvent{}, false, nil
		}
		return provider.StreamEvent{}, false, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := blockIndex(v.Value.ContentBlockIndex)
		meta, ok := it.toolMeta[idx]
		if !ok {
			return provider.StreamEvent{}, false, nil
		}
		raw := "{}"
		if b := it.toolArgs[idx]; b != nil && b.Len() > 0 {
			raw = b.String()
		}
		delete(it.toolMeta, idx)
		delete(it.toolArgs, idx)
		var input any
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			input = raw
		}
		return provider.StreamEvent{Kind: provider.KindToolCall, ToolID: meta.id, ToolName: meta.name, Input: input}, true, nil

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage == nil {
			return provider.StreamEvent{}, false, nil
		}
		return provider.StreamEvent{
			Kind:         provider.KindUsage,
			InputTokens:  int(int32Value(v.Value.Usage.InputTokens)),
			OutputTokens: int(int32Value(v.Value.Usage.OutputTokens)),
		}, true, nil
	}
	// message_start, message_stop and any other variant carry no
	// kernel-visible payload of their own; the terminal Result is
	// synthesized once the event channel closes.
	return provider.StreamEvent{}, false, nil
}

func blockIndex(idx *int32) int32 {
	if idx == nil {
		return 0
	}
	return *idx
}

func int32Value(ptr *int32) int32 {
	if ptr == nil {
		return 0
	}
	return *ptr
}
