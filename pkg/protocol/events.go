package protocol

// Event type names carried in an agent/event notification's params.type.
// This is the canonical taxonomy from spec §4.1 — providers and tools must
// emit only these.
const (
	// Lifecycle
	EventAgentStart     = "agent_start"
	EventAgentEnd       = "agent_end"
	EventAgentAbort     = "agent_abort"
	EventAgentRecovered = "agent_recovered"

	// Assistant content
	EventMessageStart  = "message_start"
	EventMessageDelta  = "message_delta"
	EventThinkingStart = "thinking_start"
	EventThinkingDelta = "thinking_delta"

	// Tool execution
	EventToolExecutionStart = "tool_execution_start"
	EventToolExecutionEnd   = "tool_execution_end"
	EventToolOutput         = "tool_output"
	EventToolSkipped        = "tool_skipped"

	// Housekeeping
	EventStatusUpdate      = "status_update"
	EventUsageUpdate       = "usage_update"
	EventContextDiscovered = "context_discovered"
	EventSkillLoaded       = "skill_loaded"
	EventRetry             = "retry"
	EventCompactionStart   = "compaction_start"
	EventCompactionEnd     = "compaction_end"
	EventStreamStalled     = "stream_stalled"
	EventError             = "error"

	// Sub-agent
	EventSubAgentStart = "sub_agent_start"
	EventSubAgentEvent = "sub_agent_event"
)
