// Package providers defines the Provider Interface (spec §4.4): the
// contract for initiating a streaming LLM request and receiving canonical
// stream events. Generalized from goclaw's internal/providers/types.go
// (Chat/ChatStream/DefaultModel/Name) into a Stream/Cancel shape; each
// adapter parses provider-native chunks internally, and the interface has
// no separate parse_chunk operation.
package providers

import "context"

// ToolDefinition describes one tool's schema as sent to the provider.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Message is the provider-facing rendering of a sessions.Message — the
// Turn Engine translates its canonical Message type into this shape right
// before calling Stream.
type Message struct {
	Role      string                 `json:"role"` // system|user|assistant|tool
	Content   string                 `json:"content,omitempty"`
	ToolCalls []ToolCallIn           `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// ToolCallIn is a tool call as sent back to the provider (assistant turn
// replay), as opposed to StreamEvent's incrementally-built tool calls.
type ToolCallIn struct {
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Usage is the provider's authoritative token accounting for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ContextWindow    int `json:"context_window"`
}

// StreamHandle identifies one in-flight streaming request so Cancel can
// target it.
type StreamHandle interface {
	ID() string
}

// StreamEventKind tags a StreamEvent's variant (spec §4.4).
type StreamEventKind string

const (
	EventTextStart       StreamEventKind = "text_start"
	EventTextDelta       StreamEventKind = "text_delta"
	EventTextDone        StreamEventKind = "text_done"
	EventThinkingStart   StreamEventKind = "thinking_start"
	EventThinkingDelta   StreamEventKind = "thinking_delta"
	EventToolCallStart   StreamEventKind = "tool_call_start"
	EventToolCallDelta   StreamEventKind = "tool_call_delta"
	EventToolCallDone    StreamEventKind = "tool_call_done"
	EventUsage           StreamEventKind = "usage"
	EventResponseDone    StreamEventKind = "response_done"
	EventStreamError     StreamEventKind = "error"
)

// StreamEvent is the canonical chunk shape the Turn Engine consumes,
// regardless of which concrete provider produced it.
type StreamEvent struct {
	Kind StreamEventKind

	Delta string // text_delta / thinking_delta / tool_call_delta (arguments_json_fragment)
	Text  string // text_done's final text

	CallID string // tool_call_start / tool_call_done
	Name   string // tool_call_start / tool_call_done
	Arguments map[string]interface{} // tool_call_done, if the provider parsed it itself

	Usage *Usage // usage / response_done

	ErrReason string // error
}

// Provider is the contract the Turn Engine depends on. A concrete adapter
// (e.g. the anthropicProvider in this package) owns the wire format;
// nothing above this interface knows provider-specific framing.
type Provider interface {
	Name() string
	DefaultModel() string

	// Stream opens a streaming completion request. The returned channel is
	// closed when the stream ends (naturally, via error, or via Cancel).
	Stream(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (<-chan StreamEvent, StreamHandle, error)

	// Cancel aborts an in-flight stream. Safe to call after the stream has
	// already finished (no-op).
	Cancel(handle StreamHandle)
}

// ErrorClass buckets a provider error per spec §4.4/§7.
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassOverflow  ErrorClass = "overflow"
	ClassPermanent ErrorClass = "permanent"
)

// ClassifiedError wraps a provider error with its recovery bucket and an
// optional Retry-After hint (milliseconds), honored by the Turn Engine's
// retry backoff (spec §4.5.5).
type ClassifiedError struct {
	Class        ErrorClass
	Reason        string
	RetryAfterMs  int
	Cause         error
}

func (e *ClassifiedError) Error() string { return e.Reason }
func (e *ClassifiedError) Unwrap() error { return e.Cause }
