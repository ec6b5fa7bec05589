package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Meta is the JSON metadata file sibling to a session's append log
// (spec §6: "an append log of messages and a JSON metadata file (title,
// timestamps, model)").
type Meta struct {
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Model           Model     `json:"model"`
	CompactionCount int       `json:"compaction_count"`
}

var filenameSafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func sanitizeFilename(id string) string {
	return filenameSafe.ReplaceAllString(id, "_")
}

// Store persists sessions under <data_dir>/sessions/<id>/, grounded on
// goclaw's sessions.Manager.Save: write to a temp file in the same
// directory, fsync, then rename over the destination so a crash mid-write
// never leaves a torn file.
type Store struct {
	dataDir string
}

// NewStore creates a Store rooted at dataDir (caller resolves the
// platform-specific default, spec §6: "$HOME/.opal on Unix...").
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.dataDir, "sessions", sanitizeFilename(id))
}

// SessionDir returns the on-disk directory for a session id (used in the
// session/start response's session_dir field).
func (s *Store) SessionDir(id string) string {
	return s.sessionDir(id)
}

// Save atomically writes the session's message log (as a JSON array —
// "an append log", spec §9's DETS-style persistence note says any
// directory of JSON files suffices) and its meta.json sidecar.
func (s *Store) Save(sess *Session) error {
	dir := s.sessionDir(sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	if err := atomicWriteJSON(filepath.Join(dir, "log.jsonl"), sess.Log.Snapshot()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}

	meta := Meta{
		Title:           sess.Title,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
		Model:           sess.Model,
		CompactionCount: sess.CompactionCount,
	}
	if err := atomicWriteJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Load reads a session's persisted log and metadata back, or returns
// os.ErrNotExist if no such session was ever saved.
func (s *Store) Load(id string) ([]Message, Meta, error) {
	dir := s.sessionDir(id)

	var msgs []Message
	if err := readJSON(filepath.Join(dir, "log.jsonl"), &msgs); err != nil {
		return nil, Meta{}, err
	}
	var meta Meta
	if err := readJSON(filepath.Join(dir, "meta.json"), &meta); err != nil {
		return nil, Meta{}, err
	}
	return msgs, meta, nil
}

// Delete removes a session's entire on-disk directory.
func (s *Store) Delete(id string) error {
	return os.RemoveAll(s.sessionDir(id))
}

// List returns the ids of every persisted session, for the `session ls`
// CLI command. A missing sessions directory (nothing ever persisted) is
// not an error — it returns an empty slice.
func (s *Store) List() ([]string, error) {
	root := filepath.Join(s.dataDir, "sessions")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
