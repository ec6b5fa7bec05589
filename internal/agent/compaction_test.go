package agent

import (
	"strings"
	"testing"

	"github.com/opalhq/opal-runtime/internal/sessions"
)

func TestEstimateTokens_TextOnly(t *testing.T) {
	m := sessions.NewUser(strings.Repeat("a", 40))
	if got := estimateTokens(m); got != 10 {
		t.Fatalf("expected ceil(40/4)=10, got %d", got)
	}
}

func TestEstimateTokens_IncludesToolCallArguments(t *testing.T) {
	m := sessions.NewAssistant("", []sessions.ToolCall{
		{CallID: "c1", Name: "shell", Arguments: map[string]interface{}{"command": "ls -la"}},
	})
	if got := estimateTokens(m); got <= 0 {
		t.Fatalf("expected a positive estimate for a message with tool call args, got %d", got)
	}
}

func TestEstimateLogTokens_DoesNotDoubleCountBeforeLastUsageIndex(t *testing.T) {
	snapshot := []sessions.Message{
		sessions.NewUser("hi"),
		sessions.NewAssistant("hello", nil),
		sessions.NewUser("more"),
	}
	usage := sessions.TokenUsage{CurrentContextTokens: 1000, LastUsageMsgIndex: 2}
	got := estimateLogTokens(snapshot, usage)
	want := 1000 + estimateTokens(snapshot[2])
	if got != want {
		t.Fatalf("expected %d (base + tail only), got %d", want, got)
	}
}

func TestHeuristicCompactor_KeepsTailUnderBudget(t *testing.T) {
	c := &HeuristicCompactor{}
	snapshot := []sessions.Message{
		sessions.NewUser(strings.Repeat("x", 400)),
		sessions.NewAssistant(strings.Repeat("y", 400), nil),
		sessions.NewUser("short tail"),
	}
	out, err := c.Compact(snapshot, 10) // tiny budget: keep only the very last message
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected [summary, tail], got %d messages: %+v", len(out), out)
	}
	if out[0].Kind != sessions.KindSystem {
		t.Fatalf("expected a System summary message first, got %v", out[0].Kind)
	}
	if out[len(out)-1].Content != "short tail" {
		t.Fatalf("expected the tail message preserved verbatim, got %q", out[len(out)-1].Content)
	}
}

func TestHeuristicCompactor_NoOpWhenEverythingFitsTheBudget(t *testing.T) {
	c := &HeuristicCompactor{}
	snapshot := []sessions.Message{
		sessions.NewUser("hi"),
		sessions.NewAssistant("hello", nil),
	}
	out, err := c.Compact(snapshot, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(snapshot) {
		t.Fatalf("expected a no-op compaction, got %d messages instead of %d", len(out), len(snapshot))
	}
}
