package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for a local dev session.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:               "~/.opal/workspace",
			Model:                   "claude-sonnet-4-5-20250929",
			ContextWindow:           200000,
			MaxRetries:              3,
			BaseDelayMs:             2000,
			MaxDelayMs:              60000,
			StallSeconds:            10,
			OverflowThreshold:       1.0,
			AutoCompactThreshold:    0.80,
			AutoCompactKeepFraction: 0.25,
			OverflowKeepFraction:    0.20,
			SubAgentTimeoutSeconds:  300,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — Default() with env overrides applied is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets and a handful of common overrides from
// the environment. Env vars always take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("OPAL_ANTHROPIC_API_KEY", &c.Provider.APIKey)
	envStr("OPAL_ANTHROPIC_API_BASE", &c.Provider.APIBase)
	envStr("OPAL_MODEL", &c.Agent.Model)
	envStr("OPAL_WORKSPACE", &c.Agent.Workspace)
	envStr("OPAL_DEBUG_WS_ADDR", &c.Serve.DebugWSAddr)
}

// Save writes the config to a JSON file. Secrets (ProviderConfig.APIKey)
// are never written — they round-trip through the environment only.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Watch starts an fsnotify watcher on path's directory and calls onChange
// with a freshly reloaded Config every time the file is written. The
// returned stop func tears the watcher down; callers that don't need live
// reload (tests, one-shot CLI commands) can simply not call Watch.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config watch: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config: reload failed", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
