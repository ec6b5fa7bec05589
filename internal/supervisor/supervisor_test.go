package supervisor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opalhq/opal-runtime/internal/agent"
	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
)

func newTestDeps(scripts ...providers.Script) Deps {
	registry := tools.NewRegistry()
	registry.Register(&tools.SubAgentTool{})
	return Deps{
		Provider:  providers.NewFakeProvider(scripts...),
		Registry:  registry,
		Policy:    tools.NewPolicyEngine(nil),
		EngineCfg: agent.DefaultEngineConfig(),
		Metrics:   NewMetrics(prometheus.NewRegistry()),
	}
}

func TestSupervisor_CreateAndClose(t *testing.T) {
	s := New(newTestDeps())
	srv, err := s.Create("sess-1", t.TempDir(), "", sessions.Model{ModelID: "fake-model", ContextWindow: 128000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.Get("sess-1"); !ok {
		t.Fatalf("expected session to be registered")
	}
	if got := s.List(); len(got) != 1 || got[0] != "sess-1" {
		t.Fatalf("expected List to report [sess-1], got %v", got)
	}

	s.Close("sess-1")
	if _, ok := s.Get("sess-1"); ok {
		t.Fatalf("expected session to be unregistered after Close")
	}
	if got := srv.Engine().State(); got.Status != agent.StatusIdle {
		t.Fatalf("expected closed engine to report idle, got %v", got.Status)
	}
}

func TestSupervisor_DuplicateIDRejected(t *testing.T) {
	s := New(newTestDeps())
	if _, err := s.Create("dup", t.TempDir(), "", sessions.Model{ModelID: "fake-model", ContextWindow: 128000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Create("dup", t.TempDir(), "", sessions.Model{ModelID: "fake-model", ContextWindow: 128000}); err == nil {
		t.Fatalf("expected an error creating a session with a duplicate id")
	}
}

func TestSessionServer_EngineCrashRestartsAndEmitsRecovered(t *testing.T) {
	s := New(newTestDeps(providers.Script{Events: []providers.StreamEvent{
		{Kind: providers.EventTextDelta, Delta: "boom"},
		{Kind: providers.EventResponseDone, Usage: &providers.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2, ContextWindow: 128000}},
	}}))
	srv, err := s.Create("crash-1", t.TempDir(), "", sessions.Model{ModelID: "fake-model", ContextWindow: 128000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := srv.Engine()

	recoveredCh := make(chan bus.Event, 1)
	srv.Bus().Subscribe("recovered-watcher", func(ev bus.Event) {
		if ev.Type == "agent_recovered" {
			recoveredCh <- ev
		}
	})
	defer srv.Bus().Unsubscribe("recovered-watcher")

	// Simulate an in-flight panic the way Engine.run's recover would
	// observe it, without needing a real bug to trigger one.
	srv.onEngineCrash("simulated panic")

	select {
	case <-recoveredCh:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for agent_recovered")
	}

	after := srv.Engine()
	if after == before {
		t.Fatalf("expected a new Engine instance after a crash restart")
	}
	if state := after.State(); state.Status != agent.StatusIdle {
		t.Fatalf("expected the restarted engine to be idle, got %v", state.Status)
	}
}
