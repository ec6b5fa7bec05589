package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileTool_ReadsWithinWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := &ReadFileTool{}
	ec := &ExecContext{Context: context.Background(), WorkingDir: dir}
	out := tool.Execute(map[string]interface{}{"path": "hello.txt"}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok, got %v: %s", out.Kind, out.Message)
	}
	if out.Text != "hi there" {
		t.Fatalf("unexpected content: %q", out.Text)
	}
}

func TestReadFileTool_RejectsEscapeOutsideWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := &ReadFileTool{}
	ec := &ExecContext{Context: context.Background(), WorkingDir: dir}
	out := tool.Execute(map[string]interface{}{"path": "../../etc/passwd"}, ec)

	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err for path escape, got %v", out.Kind)
	}
}

func TestReadFileTool_AllowsAllowedBase(t *testing.T) {
	workDir := t.TempDir()
	baseDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(baseDir, "skill.md"), []byte("skill body"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := &ReadFileTool{}
	ec := &ExecContext{Context: context.Background(), WorkingDir: workDir, AllowedBases: []string{baseDir}}
	out := tool.Execute(map[string]interface{}{"path": filepath.Join(baseDir, "skill.md")}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok, got %v: %s", out.Kind, out.Message)
	}
	if out.Text != "skill body" {
		t.Fatalf("unexpected content: %q", out.Text)
	}
}

func TestWriteFileTool_WritesAndCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	tool := &WriteFileTool{}
	ec := &ExecContext{Context: context.Background(), WorkingDir: dir}
	out := tool.Execute(map[string]interface{}{"path": "nested/out.txt", "content": "payload"}, ec)

	if out.Kind != OutcomeOk {
		t.Fatalf("expected Ok, got %v: %s", out.Kind, out.Message)
	}
	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.txt"))
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestWriteFileTool_RejectsEscapeOutsideWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := &WriteFileTool{}
	ec := &ExecContext{Context: context.Background(), WorkingDir: dir}
	out := tool.Execute(map[string]interface{}{"path": "../escape.txt", "content": "x"}, ec)

	if out.Kind != OutcomeErr {
		t.Fatalf("expected Err for path escape, got %v", out.Kind)
	}
}
