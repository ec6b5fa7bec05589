package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveWithinBases resolves path against working_dir (or one of
// allowed_bases) and refuses to escape any of them, grounded on goclaw's
// sessions.Manager path-safety checks (filepath.IsLocal / no path
// separator validation) generalized to directory trees instead of bare
// filenames.
func resolveWithinBases(path, workingDir string, allowedBases []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	bases := append([]string{workingDir}, allowedBases...)

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workingDir, candidate)
	}
	candidate = filepath.Clean(candidate)

	for _, base := range bases {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBase, candidate)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("path %q escapes the allowed directories", path)
}

// ReadFileTool reads a UTF-8 text file within the session's working_dir
// (or an allowed base).
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description(ctx context.Context) string {
	return "Reads a UTF-8 text file within the session's working directory."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Meta(args map[string]interface{}) string {
	p, _ := args["path"].(string)
	return "read " + p
}

func (t *ReadFileTool) Execute(args map[string]interface{}, ec *ExecContext) Outcome {
	p, _ := args["path"].(string)
	resolved, err := resolveWithinBases(p, ec.WorkingDir, ec.AllowedBases)
	if err != nil {
		return Err(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Err("read failed: " + err.Error())
	}
	return Ok(string(data))
}

// WriteFileTool writes (overwriting) a UTF-8 text file within the
// session's working_dir (or an allowed base).
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description(ctx context.Context) string {
	return "Writes (overwriting) a UTF-8 text file within the session's working directory."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Meta(args map[string]interface{}) string {
	p, _ := args["path"].(string)
	return "write " + p
}

func (t *WriteFileTool) Execute(args map[string]interface{}, ec *ExecContext) Outcome {
	p, _ := args["path"].(string)
	content, _ := args["content"].(string)
	resolved, err := resolveWithinBases(p, ec.WorkingDir, ec.AllowedBases)
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Err("mkdir failed: " + err.Error())
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Err("write failed: " + err.Error())
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), p))
}
