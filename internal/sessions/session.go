package sessions

import "time"

// ThinkingLevel is the model's reasoning-effort dial.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Model is the immutable model descriptor; a model switch replaces the
// value wholesale rather than mutating it in place.
type Model struct {
	ProviderTag    string        `json:"provider_tag"`
	ModelID        string        `json:"model_id"`
	ThinkingLevel  ThinkingLevel `json:"thinking_level"`
	ContextWindow  int           `json:"context_window"`
}

// ParentLink identifies a sub-agent's parent session and the tool call
// that spawned it. Nil for top-level sessions.
type ParentLink struct {
	ParentSessionID string `json:"parent_session_id"`
	ParentCallID    string `json:"parent_call_id"`
}

// Session is the process-wide unit of conversation state: one Message
// Log, one active Model, one Tool Registry snapshot, and (for sub-agents)
// a ParentLink.
type Session struct {
	ID           string
	WorkingDir   string
	SystemPrompt string

	Model Model

	Log *Log

	ParentLink *ParentLink

	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time

	Usage TokenUsage

	// ToolNames is the active tool set snapshot (post gating/disabled-list
	// filtering, §4.5.8) this session was created with.
	ToolNames []string

	CompactionCount int
}

// NewSession constructs a fresh top-level or sub-agent Session. parent is
// nil for a top-level session.
func NewSession(id, workingDir, systemPrompt string, model Model, toolNames []string, parent *ParentLink) *Session {
	now := time.Now()
	s := &Session{
		ID:           id,
		WorkingDir:   workingDir,
		SystemPrompt: systemPrompt,
		Model:        model,
		Log:          NewLog(),
		ParentLink:   parent,
		ToolNames:    toolNames,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Usage.ContextWindow = model.ContextWindow
	if systemPrompt != "" {
		s.Log.Append(NewSystem(systemPrompt))
	}
	return s
}

// IsSubAgent reports whether this session has a parent.
func (s *Session) IsSubAgent() bool {
	return s.ParentLink != nil
}

// SubAgentRecord is the parent-visible view of a running or finished
// sub-agent (spec §3).
type SubAgentRecord struct {
	SessionID     string    `json:"session_id"`
	ParentCallID  string    `json:"parent_call_id"`
	Label         string    `json:"label"`
	Model         string    `json:"model"`
	Tools         []string  `json:"tools"`
	StartedAt     time.Time `json:"started_at"`
	ToolCount     int       `json:"tool_count"`
	IsRunning     bool      `json:"is_running"`
}
