package tools

import (
	"context"
	"testing"
)

func TestAskUserTool_ReturnsEffectWithQuestion(t *testing.T) {
	tool := &AskUserTool{}
	ec := &ExecContext{Context: context.Background(), SessionID: "s1", CallID: "c1"}
	out := tool.Execute(map[string]interface{}{"question": "continue?"}, ec)

	if out.Kind != OutcomeEffect {
		t.Fatalf("expected Effect, got %v: %s", out.Kind, out.Message)
	}
	if out.Tag != AskUserEffectTag {
		t.Fatalf("unexpected tag: %s", out.Tag)
	}
	if out.Payload["question"] != "continue?" {
		t.Fatalf("expected question to be carried through, got %v", out.Payload)
	}
}

func TestAskUserTool_RequiresQuestion(t *testing.T) {
	tool := &AskUserTool{}
	ec := &ExecContext{Context: context.Background()}
	out := tool.Execute(map[string]interface{}{}, ec)
	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err without question, got %v", out.Kind)
	}
}

func TestAskParentTool_ReturnsEffectWithQuestion(t *testing.T) {
	tool := &AskParentTool{}
	ec := &ExecContext{Context: context.Background(), SessionID: "child1", CallID: "c2"}
	out := tool.Execute(map[string]interface{}{"question": "which approach?"}, ec)

	if out.Kind != OutcomeEffect {
		t.Fatalf("expected Effect, got %v: %s", out.Kind, out.Message)
	}
	if out.Tag != AskParentEffectTag {
		t.Fatalf("unexpected tag: %s", out.Tag)
	}
	if out.Payload["session_id"] != "child1" {
		t.Fatalf("expected session_id to be carried through, got %v", out.Payload)
	}
}

func TestAskParentTool_RequiresQuestion(t *testing.T) {
	tool := &AskParentTool{}
	ec := &ExecContext{Context: context.Background()}
	out := tool.Execute(map[string]interface{}{}, ec)
	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err without question, got %v", out.Kind)
	}
}
