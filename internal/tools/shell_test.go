package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellTool_RunsCommandAndCapturesOutput(t *testing.T) {
	tool := NewShellTool()
	ec := &ExecContext{Context: context.Background(), WorkingDir: t.TempDir()}
	out := tool.Execute(map[string]interface{}{"command": "echo hello"}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok, got %v: %s", out.Kind, out.Message)
	}
	if strings.TrimSpace(out.Text) != "hello" {
		t.Fatalf("unexpected output: %q", out.Text)
	}
}

func TestShellTool_RequiresCommand(t *testing.T) {
	tool := NewShellTool()
	ec := &ExecContext{Context: context.Background(), WorkingDir: t.TempDir()}
	out := tool.Execute(map[string]interface{}{"command": "   "}, ec)
	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err for blank command, got %v", out.Kind)
	}
}

func TestShellTool_StreamsOutputThroughEmitter(t *testing.T) {
	tool := NewShellTool()
	var chunks []string
	ec := &ExecContext{
		Context:    context.Background(),
		WorkingDir: t.TempDir(),
		Emit:       EmitterFunc(func(chunk string) { chunks = append(chunks, chunk) }),
	}
	out := tool.Execute(map[string]interface{}{"command": "printf 'a\\nb\\n'"}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok, got %v: %s", out.Kind, out.Message)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 emitted lines, got %d: %v", len(chunks), chunks)
	}
}

func TestShellTool_SurfacesNonZeroExit(t *testing.T) {
	tool := NewShellTool()
	ec := &ExecContext{Context: context.Background(), WorkingDir: t.TempDir()}
	out := tool.Execute(map[string]interface{}{"command": "exit 7"}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok with embedded exit error, got %v: %s", out.Kind, out.Message)
	}
	if out.Meta["exit_error"] == nil {
		t.Fatalf("expected exit_error in meta, got %v", out.Meta)
	}
}

func TestShellTool_CancelViaContext(t *testing.T) {
	tool := NewShellTool()
	ctx, cancel := context.WithCancel(context.Background())
	ec := &ExecContext{Context: ctx, WorkingDir: t.TempDir()}

	done := make(chan Outcome, 1)
	go func() {
		done <- tool.Execute(map[string]interface{}{"command": "sleep 30"}, ec)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected shell execution to stop promptly after context cancel")
	}
}
