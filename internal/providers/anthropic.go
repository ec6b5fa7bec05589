package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicProvider adapts the Anthropic Messages streaming API to the
// Provider interface via github.com/anthropics/anthropic-sdk-go's native
// streaming iterator, grounded on goadesign-goa-ai's
// features/model/anthropic/{client,stream}.go. This replaces goclaw's own
// hand-rolled net/http bufio.Scanner SSE parser (internal/providers/anthropic.go
// in the teacher) — the scanning-by-event-name shape is kept in spirit
// (one case per Anthropic event type) but driven by the SDK's
// ssestream.Stream instead of raw byte scanning.
type AnthropicProvider struct {
	client       sdk.Client
	defaultModel string
	maxTokens    int64

	mu      sync.Mutex
	streams map[string]context.CancelFunc
	nextID  int
}

// NewAnthropicProvider builds an adapter using the given API key and
// default model id (e.g. string(sdk.ModelClaudeSonnet4_5)).
func NewAnthropicProvider(apiKey, defaultModel string, maxTokens int64) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicProvider{
		client:       sdk.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		streams:      make(map[string]context.CancelFunc),
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// SetAPIKey rebuilds the underlying SDK client with a new key, backing the
// `auth/set_key` RPC method. Safe to call while streams are in flight;
// only new Stream calls see the new client.
func (p *AnthropicProvider) SetAPIKey(apiKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = sdk.NewClient(option.WithAPIKey(apiKey))
}

type anthropicHandle struct{ id string }

func (h *anthropicHandle) ID() string { return h.id }

// Stream implements Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (<-chan StreamEvent, StreamHandle, error) {
	if model == "" {
		model = p.defaultModel
	}

	body, err := p.buildRequest(model, messages, tools)
	if err != nil {
		return nil, nil, &ClassifiedError{Class: ClassPermanent, Reason: err.Error(), Cause: err}
	}

	sctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	stream := client.Messages.NewStreaming(sctx, body)

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("anthropic-%d", p.nextID)
	p.streams[id] = cancel
	p.mu.Unlock()

	out := make(chan StreamEvent, 32)
	go p.pump(sctx, stream, out)

	return out, &anthropicHandle{id: id}, nil
}

// Cancel implements Provider.
func (p *AnthropicProvider) Cancel(handle StreamHandle) {
	if handle == nil {
		return
	}
	p.mu.Lock()
	cancel, ok := p.streams[handle.ID()]
	delete(p.streams, handle.ID())
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *AnthropicProvider) buildRequest(model string, messages []Message, tools []ToolDefinition) (sdk.MessageNewParams, error) {
	var system string
	var sdkMessages []sdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "user":
			sdkMessages = append(sdkMessages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.CallID, json.RawMessage(args), tc.Name))
			}
			sdkMessages = append(sdkMessages, sdk.NewAssistantMessage(blocks...))
		case "tool":
			sdkMessages = append(sdkMessages, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError),
			))
		}
	}

	var sdkTools []sdk.ToolUnionParam
	for _, t := range tools {
		schema, _ := json.Marshal(t.Parameters)
		sdkTools = append(sdkTools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{ExtraFields: map[string]interface{}{"raw": json.RawMessage(schema)}},
			},
		})
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  sdkMessages,
		Tools:     sdkTools,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params, nil
}

type toolBuffer struct {
	id, name string
	frags    []string
}

func (tb *toolBuffer) json() string {
	joined := strings.Join(tb.frags, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

// pump drains the SDK's ssestream.Stream and translates each event into
// canonical StreamEvents, closing out when the stream ends.
func (p *AnthropicProvider) pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- StreamEvent) {
	defer close(out)
	defer stream.Close()

	toolBlocks := make(map[int64]*toolBuffer)
	emit := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			if !emit(StreamEvent{Kind: EventTextStart}) {
				return
			}
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
				if !emit(StreamEvent{Kind: EventToolCallStart, CallID: toolUse.ID, Name: toolUse.Name}) {
					return
				}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" && !emit(StreamEvent{Kind: EventTextDelta, Delta: delta.Text}) {
					return
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" && !emit(StreamEvent{Kind: EventThinkingDelta, Delta: delta.Thinking}) {
					return
				}
			case sdk.InputJSONDelta:
				if tb, ok := toolBlocks[ev.Index]; ok && delta.PartialJSON != "" {
					tb.frags = append(tb.frags, delta.PartialJSON)
					if !emit(StreamEvent{Kind: EventToolCallDelta, CallID: tb.id, Delta: delta.PartialJSON}) {
						return
					}
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb, ok := toolBlocks[ev.Index]; ok {
				delete(toolBlocks, ev.Index)
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(tb.json()), &args)
				if args == nil {
					args = map[string]interface{}{}
				}
				if !emit(StreamEvent{Kind: EventToolCallDone, CallID: tb.id, Name: tb.name, Arguments: args}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage := &Usage{
				PromptTokens:     int(ev.Usage.InputTokens),
				CompletionTokens: int(ev.Usage.OutputTokens),
				TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
			if !emit(StreamEvent{Kind: EventUsage, Usage: usage}) {
				return
			}
		case sdk.MessageStopEvent:
			if !emit(StreamEvent{Kind: EventResponseDone}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		classified := Classify(err)
		emit(StreamEvent{Kind: EventStreamError, ErrReason: classified.Reason})
	}
}
