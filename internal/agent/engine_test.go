package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
)

// fakeTool is a scriptable tools.Tool used to drive tool-dispatch scenarios
// deterministically.
type fakeTool struct {
	name    string
	outcome func(args map[string]interface{}) tools.Outcome
}

func (f *fakeTool) Name() string                                 { return f.name }
func (f *fakeTool) Description(ctx context.Context) string       { return "fake tool " + f.name }
func (f *fakeTool) Parameters() map[string]interface{}           { return map[string]interface{}{"type": "object"} }
func (f *fakeTool) Meta(args map[string]interface{}) string      { return f.name }
func (f *fakeTool) Execute(args map[string]interface{}, ec *tools.ExecContext) tools.Outcome {
	return f.outcome(args)
}

// eventRecorder collects every event broadcast on a Bus, preserving order.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) handle(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, eventType string, timeout time.Duration) bus.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if ev.Type == eventType {
				return ev
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %q; got: %v", eventType, r.snapshot())
	return bus.Event{}
}

func (r *eventRecorder) countOf(eventType string) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type testHarness struct {
	engine   *Engine
	session  *sessions.Session
	provider *providers.FakeProvider
	rec      *eventRecorder
	registry *tools.Registry
}

func newTestHarness(t *testing.T, cfg EngineConfig, scripts ...providers.Script) *testHarness {
	t.Helper()
	session := sessions.NewSession("s1", t.TempDir(), "", sessions.Model{ModelID: "fake-model", ContextWindow: 128000}, []string{"shell"}, nil)
	provider := providers.NewFakeProvider(scripts...)
	eb := bus.New("s1", nil, nil)
	rec := &eventRecorder{}
	eb.Subscribe("test", rec.handle)

	registry := tools.NewRegistry()
	registry.Register(&tools.SubAgentTool{})
	policy := tools.NewPolicyEngine(nil)
	sup := tools.NewSupervisor()

	engine := NewEngine(cfg, session, provider, eb, registry, policy, sup)
	engine.Start()

	return &testHarness{engine: engine, session: session, provider: provider, rec: rec, registry: registry}
}

func usage(prompt, completion, total, contextWindow int) *providers.Usage {
	return &providers.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total, ContextWindow: contextWindow}
}

// Scenario 1 (spec §8): Echo turn.
func TestEngine_EchoTurn(t *testing.T) {
	h := newTestHarness(t, DefaultEngineConfig(), providers.Script{Events: []providers.StreamEvent{
		{Kind: providers.EventTextDelta, Delta: "hel"},
		{Kind: providers.EventTextDelta, Delta: "lo"},
		{Kind: providers.EventResponseDone, Usage: usage(10, 2, 12, 128000)},
	}})
	defer h.engine.Close()

	h.engine.Prompt("hi")
	h.rec.waitFor(t, "agent_end", 2*time.Second)

	snap := h.session.Log.Snapshot()
	last := snap[len(snap)-1]
	if last.Kind != sessions.KindAssistant || last.Content != "hello" {
		t.Fatalf("expected final assistant message %q, got %+v", "hello", last)
	}
	if h.rec.countOf("message_delta") != 2 {
		t.Fatalf("expected 2 message_delta events, got %d", h.rec.countOf("message_delta"))
	}
}

// Scenario 2 (spec §8): Tool turn.
func TestEngine_ToolTurn(t *testing.T) {
	h := newTestHarness(t,
		DefaultEngineConfig(),
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventToolCallStart, CallID: "c1", Name: "shell"},
			{Kind: providers.EventToolCallDone, CallID: "c1", Name: "shell", Arguments: map[string]interface{}{"command": "ls"}},
			{Kind: providers.EventResponseDone, Usage: usage(20, 3, 23, 128000)},
		}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "done"},
			{Kind: providers.EventResponseDone, Usage: usage(30, 4, 34, 128000)},
		}},
	)
	defer h.engine.Close()

	h.registry.Register(&fakeTool{name: "shell", outcome: func(args map[string]interface{}) tools.Outcome {
		return tools.Ok("a\nb\n")
	}})

	h.engine.Prompt("list files")
	h.rec.waitFor(t, "agent_end", 2*time.Second)

	h.rec.waitFor(t, "tool_execution_start", time.Second)
	end := h.rec.waitFor(t, "tool_execution_end", time.Second)
	if end.Fields["output"] != "a\nb\n" || end.Fields["ok"] != true {
		t.Fatalf("unexpected tool_execution_end fields: %v", end.Fields)
	}
}

// Scenario 3 (spec §8): Steer preemption.
func TestEngine_SteerPreemptionSkipsRemainingTools(t *testing.T) {
	firstCallStarted := make(chan struct{})
	h := newTestHarness(t,
		DefaultEngineConfig(),
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventToolCallStart, CallID: "c1", Name: "shell"},
			{Kind: providers.EventToolCallDone, CallID: "c1", Name: "shell", Arguments: map[string]interface{}{}},
			{Kind: providers.EventToolCallStart, CallID: "c2", Name: "shell"},
			{Kind: providers.EventToolCallDone, CallID: "c2", Name: "shell", Arguments: map[string]interface{}{}},
			{Kind: providers.EventResponseDone, Usage: usage(10, 1, 11, 128000)},
		}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "ok"},
			{Kind: providers.EventResponseDone, Usage: usage(10, 1, 11, 128000)},
		}},
	)
	defer h.engine.Close()

	var once sync.Once
	proceed := make(chan struct{})
	h.registry.Register(&fakeTool{name: "shell", outcome: func(args map[string]interface{}) tools.Outcome {
		once.Do(func() { close(firstCallStarted) })
		<-proceed
		return tools.Ok("call-1-done")
	}})

	h.engine.Prompt("list files")

	<-firstCallStarted
	h.engine.Steer("stop")
	// Block call 1's return until the steer is confirmed queued, so the
	// engine is guaranteed to observe it before dispatching call 2 —
	// otherwise this test would be racy against its own assertions.
	for len(h.engine.State().PendingSteers) == 0 {
		time.Sleep(time.Millisecond)
	}
	close(proceed)

	h.rec.waitFor(t, "agent_end", 2*time.Second)

	snap := h.session.Log.Snapshot()
	var toolResults []sessions.Message
	var stopMsgIdx = -1
	for i, m := range snap {
		if m.Kind == sessions.KindToolResult {
			toolResults = append(toolResults, m)
		}
		if m.Kind == sessions.KindUser && m.Content == "stop" {
			stopMsgIdx = i
		}
	}
	if len(toolResults) != 2 {
		t.Fatalf("expected 2 tool results, got %d: %+v", len(toolResults), toolResults)
	}
	if toolResults[0].IsError {
		t.Fatalf("expected call 1 to succeed, got error result: %+v", toolResults[0])
	}
	if !toolResults[1].IsError || !strings.Contains(toolResults[1].Content, "steering message") {
		t.Fatalf("expected call 2 to be skipped with a steering message, got: %+v", toolResults[1])
	}
	if stopMsgIdx == -1 || stopMsgIdx < indexOf(snap, toolResults[1]) {
		t.Fatalf("expected the 'stop' user message to appear after both tool results")
	}
}

func indexOf(snap []sessions.Message, target sessions.Message) int {
	for i, m := range snap {
		if m.ID == target.ID {
			return i
		}
	}
	return -1
}

// Scenario 4 (spec §8): Transient retry.
func TestEngine_TransientRetrySucceedsOnSecondAttempt(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BaseDelayMs = 10
	cfg.MaxDelayMs = 20

	h := newTestHarness(t, cfg,
		providers.Script{Err: &providers.ClassifiedError{Class: providers.ClassTransient, Reason: "timeout"}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "ok"},
			{Kind: providers.EventResponseDone, Usage: usage(5, 1, 6, 128000)},
		}},
	)
	defer h.engine.Close()

	h.engine.Prompt("hi")

	retryEv := h.rec.waitFor(t, "retry", time.Second)
	if retryEv.Fields["attempt"] != 1 {
		t.Fatalf("expected attempt 1, got %v", retryEv.Fields["attempt"])
	}

	h.rec.waitFor(t, "agent_end", 2*time.Second)
	if h.rec.countOf("retry") != 1 {
		t.Fatalf("expected exactly 1 retry event, got %d", h.rec.countOf("retry"))
	}
	if h.engine.State().RetryCount != 0 {
		t.Fatalf("expected retry_count reset to 0 after success, got %d", h.engine.State().RetryCount)
	}
}

// Scenario 5 (spec §8): Overflow.
func TestEngine_OverflowTriggersCompactionAndRetry(t *testing.T) {
	h := newTestHarness(t, DefaultEngineConfig(),
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "partial"},
			{Kind: providers.EventResponseDone, Usage: usage(130000, 10, 130010, 128000)},
		}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "ok"},
			{Kind: providers.EventResponseDone, Usage: usage(5000, 10, 5010, 128000)},
		}},
	)
	defer h.engine.Close()

	h.engine.Prompt("hi")

	h.rec.waitFor(t, "compaction_start", 2*time.Second)
	h.rec.waitFor(t, "compaction_end", 2*time.Second)
	h.rec.waitFor(t, "agent_end", 2*time.Second)

	if h.session.CompactionCount == 0 {
		t.Fatalf("expected at least one compaction")
	}
}

// Scenario 6 (spec §8): Sub-agent.
func TestEngine_SubAgentForwardsWrappedEvents(t *testing.T) {
	// The parent and spawned child share one FakeProvider, so scripts are
	// consumed in call order: parent's turn 1 (the sub_agent tool call),
	// then the child's only turn (spawned synchronously while the parent
	// is mid tool-dispatch), then the parent's turn 2 (after the tool
	// result comes back).
	h := newTestHarness(t, DefaultEngineConfig(),
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventToolCallStart, CallID: "c1", Name: "sub_agent"},
			{Kind: providers.EventToolCallDone, CallID: "c1", Name: "sub_agent", Arguments: map[string]interface{}{"prompt": "do X"}},
			{Kind: providers.EventResponseDone, Usage: usage(10, 1, 11, 128000)},
		}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "child result"},
			{Kind: providers.EventResponseDone, Usage: usage(5, 1, 6, 128000)},
		}},
		providers.Script{Events: []providers.StreamEvent{
			{Kind: providers.EventTextDelta, Delta: "parent done"},
			{Kind: providers.EventResponseDone, Usage: usage(10, 1, 11, 128000)},
		}},
	)
	defer h.engine.Close()

	h.engine.Prompt("delegate")

	h.rec.waitFor(t, "sub_agent_start", 2*time.Second)
	h.rec.waitFor(t, "sub_agent_event", 2*time.Second)
	end := h.rec.waitFor(t, "tool_execution_end", 2*time.Second)
	if end.Fields["tool"] != "sub_agent" {
		t.Fatalf("expected sub_agent tool_execution_end, got %v", end.Fields)
	}
	if !strings.Contains(end.Fields["output"].(string), "child result") {
		t.Fatalf("expected output to contain the child's final text, got %v", end.Fields["output"])
	}
}

// Abort-after-abort is a no-op (spec §8 round-trip property).
func TestEngine_AbortAfterAbortIsNoOp(t *testing.T) {
	h := newTestHarness(t, DefaultEngineConfig())
	defer h.engine.Close()

	h.engine.Abort()
	h.engine.Abort()

	if h.rec.countOf("agent_abort") != 0 {
		t.Fatalf("expected no agent_abort events when idle, got %d", h.rec.countOf("agent_abort"))
	}
}
