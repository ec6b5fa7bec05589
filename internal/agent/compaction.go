package agent

import (
	"encoding/json"
	"strconv"

	"github.com/opalhq/opal-runtime/internal/sessions"
)

// estimateTokens applies the hybrid heuristic (spec §9): ceil(chars/4) for
// text, plus the serialized JSON length of tool arguments/results.
func estimateTokens(m sessions.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		if b, err := json.Marshal(tc.Arguments); err == nil {
			chars += len(b)
		}
	}
	return (chars + 3) / 4
}

// estimateLogTokens returns a hybrid estimate for the whole log: messages
// at or before usage.LastUsageMsgIndex are covered by the provider's last
// authoritative prompt_tokens report; only the tail appended since then is
// estimated heuristically, so the two numbers are never double-counted.
func estimateLogTokens(snapshot []sessions.Message, usage sessions.TokenUsage) int {
	base := usage.CurrentContextTokens
	start := usage.LastUsageMsgIndex
	if start > len(snapshot) {
		start = len(snapshot)
	}
	total := base
	for _, m := range snapshot[start:] {
		total += estimateTokens(m)
	}
	return total
}

// Compactor replaces a prefix of the log with a short summary, keeping a
// tail whose estimated cost is <= keepRecentTokens (spec §4.2). It takes no
// reason argument; the engine puts the reason on compaction_start itself.
type Compactor interface {
	Compact(snapshot []sessions.Message, keepRecentTokens int) (newMessages []sessions.Message, err error)
}

// HeuristicCompactor summarizes the dropped prefix into a single synthetic
// System message rather than calling back out to the provider — grounded
// on goclaw's agent/loop_history.go pruneContextMessages, which also
// collapses a dropped range into one placeholder entry instead of an
// LLM-generated summary, deferring true LLM summarization to a later
// iteration (noted as such in the ledger).
type HeuristicCompactor struct{}

// Compact keeps the longest tail whose heuristic token cost is
// <= keepRecentTokens (always keeping at least the final message, even if
// it alone exceeds the budget) and collapses everything before it into one
// summary System message.
func (c *HeuristicCompactor) Compact(snapshot []sessions.Message, keepRecentTokens int) ([]sessions.Message, error) {
	if len(snapshot) == 0 {
		return snapshot, nil
	}

	cut := len(snapshot)
	running := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		cost := estimateTokens(snapshot[i])
		if running+cost > keepRecentTokens && cut != len(snapshot) {
			break
		}
		running += cost
		cut = i
	}
	if cut == 0 {
		return snapshot, nil // nothing to drop; a no-op compaction
	}

	dropped := snapshot[:cut]
	summary := summarizeDropped(dropped)
	out := make([]sessions.Message, 0, len(snapshot)-cut+1)
	out = append(out, sessions.NewSystem(summary))
	out = append(out, snapshot[cut:]...)
	return out, nil
}

func summarizeDropped(dropped []sessions.Message) string {
	userTurns, toolCalls := 0, 0
	for _, m := range dropped {
		switch m.Kind {
		case sessions.KindUser:
			userTurns++
		case sessions.KindAssistant:
			toolCalls += len(m.ToolCalls)
		}
	}
	return summaryPreamble(userTurns, toolCalls, len(dropped))
}

func summaryPreamble(userTurns, toolCalls, messageCount int) string {
	return "[compacted " + strconv.Itoa(messageCount) + " earlier messages: " +
		strconv.Itoa(userTurns) + " user turns, " + strconv.Itoa(toolCalls) + " tool calls]"
}
