// Package sessions implements the Message Log and Session data model:
// append-only conversation history with atomic compaction and on-disk
// persistence, generalized from goclaw's internal/sessions/manager.go
// (which conflated per-channel conversation state with disk persistence)
// into the spec's canonical Message/Session shapes.
package sessions

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind tags a Message's variant.
type Kind string

const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool_result"
	KindSkill      Kind = "skill"
)

// ToolCall is embedded in an Assistant message. Arguments is a
// JSON-compatible map, already parsed from the provider's accumulated
// arguments_json.
type ToolCall struct {
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one entry in a session's Message Log. Exactly the fields
// relevant to Kind are populated; this mirrors a tagged union in a
// language (Go) that does not have one natively.
type Message struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Content string `json:"content,omitempty"`

	// Assistant only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult only.
	CallID  string `json:"call_id,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// Skill only.
	SkillName         string `json:"skill_name,omitempty"`
	SkillInstructions string `json:"instructions,omitempty"`
}

var idSeq uint64

func newMessageID() string {
	// uuid gives global uniqueness across process restarts. idSeq counts
	// the ids issued in this process but is not part of the id, so ids
	// carry no ordering.
	atomic.AddUint64(&idSeq, 1)
	return uuid.NewString()
}

// NewSystem builds a System message.
func NewSystem(content string) Message {
	return Message{ID: newMessageID(), Kind: KindSystem, Content: content}
}

// NewUser builds a User message.
func NewUser(content string) Message {
	return Message{ID: newMessageID(), Kind: KindUser, Content: content}
}

// NewAssistant builds an Assistant message.
func NewAssistant(content string, toolCalls []ToolCall) Message {
	return Message{ID: newMessageID(), Kind: KindAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolResult builds a ToolResult message for the given originating call_id.
func NewToolResult(callID, content string, isError bool) Message {
	return Message{ID: newMessageID(), Kind: KindToolResult, CallID: callID, Content: content, IsError: isError}
}

// NewSkill builds a Skill message carrying loaded skill instructions.
func NewSkill(name, instructions string) Message {
	return Message{ID: newMessageID(), Kind: KindSkill, SkillName: name, SkillInstructions: instructions}
}

// TokenUsage tracks prompt/completion/total tokens plus the bookkeeping
// needed for hybrid estimation (§4.5.5 / §9).
type TokenUsage struct {
	Prompt              int `json:"prompt"`
	Completion          int `json:"completion"`
	Total               int `json:"total"`
	ContextWindow       int `json:"context_window"`
	CurrentContextTokens int `json:"current_context_tokens"`
	LastUsageMsgIndex   int `json:"last_usage_msg_index"`
}

// Add merges a newly reported usage into the running total. Per the
// resolved Open Question (spec §9: "source adds; keep additive"),
// response_done's inline usage is additive, not a replacement.
func (u *TokenUsage) Add(prompt, completion, total, contextWindow int) {
	u.Prompt += prompt
	u.Completion += completion
	if total > 0 {
		u.Total += total
	} else {
		u.Total += prompt + completion
	}
	if contextWindow > 0 {
		u.ContextWindow = contextWindow
	}
	u.CurrentContextTokens = prompt
}
