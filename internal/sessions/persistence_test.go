package sessions

import (
	"os"
	"testing"
)

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	sess := NewSession("sess-1", "/work", "you are a helper",
		Model{ProviderTag: "anthropic", ModelID: "claude", ContextWindow: 128000}, []string{"shell"}, nil)
	sess.Log.Append(NewUser("hi"))
	sess.Title = "Greeting"

	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	msgs, meta, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (system + user), got %d", len(msgs))
	}
	if meta.Title != "Greeting" {
		t.Fatalf("expected title Greeting, got %q", meta.Title)
	}
	if meta.Model.ModelID != "claude" {
		t.Fatalf("expected model claude, got %q", meta.Model.ModelID)
	}
}

func TestStore_LoadMissingSessionErrors(t *testing.T) {
	store := NewStore(t.TempDir())
	_, _, err := store.Load("does-not-exist")
	if err == nil {
		t.Fatal("expected error loading a session that was never saved")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist, got %v", err)
	}
}

func TestStore_DeleteRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := NewSession("sess-del", "/work", "", Model{}, nil, nil)
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("sess-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(store.SessionDir("sess-del")); !os.IsNotExist(err) {
		t.Fatalf("expected session dir to be gone, stat err=%v", err)
	}
}

func TestStore_SanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := NewSession("../../etc/passwd", "/work", "", Model{}, nil, nil)
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(dir + "/sessions"); err != nil {
		t.Fatalf("expected sessions dir to exist under data dir: %v", err)
	}
}
