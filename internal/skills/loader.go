// Package skills is a minimal filesystem-backed skill and context-file
// discovery convenience (SPEC_FULL §1: "a minimal filesystem-backed skill
// loader is provided as an ambient convenience, not a discovery engine").
// It does not parse or inject skill content into the system prompt — it
// only names what's on disk, for `session/start`'s `available_skills` and
// `context_files` response fields; nothing here emits a `skill_loaded` or
// `context_discovered` event. Grounded loosely on goclaw's per-agent skills directory
// convention, without goclaw's bootstrap-package prompt injection (which
// SPEC_FULL explicitly declines to carry forward).
package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// skillsDirName is the workspace-relative directory a session's skills are
// discovered from.
const skillsDirName = ".opal/skills"

// contextCandidates are workspace-root files surfaced as context_files when
// present, checked in this order.
var contextCandidates = []string{"AGENTS.md", "CLAUDE.md", "CONTEXT.md", "README.md"}

// Discover lists the skill names available to a session rooted at
// workingDir: every *.md file under <workingDir>/.opal/skills, named by
// its filename without extension. A missing directory is not an error —
// it simply yields no skills.
func Discover(workingDir string) []string {
	dir := filepath.Join(workingDir, skillsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}

// ContextFiles returns the subset of contextCandidates that exist at the
// workspace root, for `session/start`'s context_files field.
func ContextFiles(workingDir string) []string {
	var found []string
	for _, name := range contextCandidates {
		if _, err := os.Stat(filepath.Join(workingDir, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}
