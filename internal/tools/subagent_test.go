package tools

import (
	"context"
	"testing"
)

func TestSubAgentTool_RequiresPrompt(t *testing.T) {
	tool := &SubAgentTool{}
	ec := &ExecContext{Context: context.Background(), SessionID: "s1", CallID: "c1"}
	out := tool.Execute(map[string]interface{}{}, ec)
	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err without prompt, got %v", out.Kind)
	}
}

func TestSubAgentTool_ReturnsSpawnEffect(t *testing.T) {
	tool := &SubAgentTool{}
	ec := &ExecContext{Context: context.Background(), SessionID: "s1", CallID: "c1"}
	out := tool.Execute(map[string]interface{}{"prompt": "do X", "label": "worker"}, ec)

	if out.Kind != OutcomeEffect {
		t.Fatalf("expected Effect, got %v: %s", out.Kind, out.Message)
	}
	if out.Tag != SubAgentEffectTag {
		t.Fatalf("unexpected tag: %s", out.Tag)
	}
	if out.Payload["prompt"] != "do X" {
		t.Fatalf("expected prompt to be carried through, got %v", out.Payload["prompt"])
	}
	if out.Payload["parent_session_id"] != "s1" || out.Payload["parent_call_id"] != "c1" {
		t.Fatalf("expected parent identity to be carried through, got %v", out.Payload)
	}
}

func TestSubAgentTool_RejectsGrantingSubAgentToChild(t *testing.T) {
	tool := &SubAgentTool{}
	ec := &ExecContext{Context: context.Background(), SessionID: "s1", CallID: "c1"}
	out := tool.Execute(map[string]interface{}{
		"prompt": "do X",
		"tools":  []interface{}{"shell", "sub_agent"},
	}, ec)

	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err when requesting sub_agent for child, got %v", out.Kind)
	}
}

func TestChildToolNames_ExcludesSubAgentAndAskUserAddsAskParent(t *testing.T) {
	parent := []string{"shell", "read_file", "sub_agent", "ask_user"}
	got := ChildToolNames(parent, nil)

	want := map[string]bool{"shell": true, "read_file": true, "ask_parent": true}
	if len(got) != len(want) {
		t.Fatalf("unexpected tool set: %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Fatalf("unexpected tool %q in child set: %v", name, got)
		}
	}
}

func TestChildToolNames_HonorsRequestedSubset(t *testing.T) {
	parent := []string{"shell", "read_file", "write_file"}
	got := ChildToolNames(parent, []string{"shell", "does_not_exist"})

	found := map[string]bool{}
	for _, name := range got {
		found[name] = true
	}
	if !found["shell"] {
		t.Fatalf("expected shell to survive filtering: %v", got)
	}
	if found["write_file"] {
		t.Fatalf("expected write_file to be excluded by the request, got %v", got)
	}
	if found["does_not_exist"] {
		t.Fatalf("expected unknown requested tool to be dropped, got %v", got)
	}
	if !found["ask_parent"] {
		t.Fatalf("expected ask_parent to always be added, got %v", got)
	}
}
