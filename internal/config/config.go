// Package config is the typed configuration layer (SPEC_FULL's ambient
// Config component): a JSON/JSON5 file on disk, overlaid with environment
// variables for secrets, watched for live edits while the process runs.
// Generalized from goclaw's internal/config — same Default/Load/Save
// shape and the same "secrets never round-trip through the file, only
// through env" rule — trimmed down to what a single-session Turn Engine
// and RPC Facade need: no channel bindings, no Postgres/managed-mode
// switch, no Tailscale listener, no TTS/cron/sandbox knobs.
package config

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// Config is the root configuration for the opal-runtime process.
type Config struct {
	DataDir   string          `json:"data_dir,omitempty"`
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Tools     ToolsConfig     `json:"tools"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Serve     ServeConfig     `json:"serve,omitempty"`

	mu sync.RWMutex
}

// AgentConfig holds the default model/engine tuning applied to every new
// session (overridable per session via `session/start` params and
// `model/set`).
type AgentConfig struct {
	Workspace     string  `json:"workspace"`
	Model         string  `json:"model"`
	ContextWindow int     `json:"context_window"`
	MaxRetries    int     `json:"max_retries,omitempty"`
	BaseDelayMs   int     `json:"base_delay_ms,omitempty"`
	MaxDelayMs    int     `json:"max_delay_ms,omitempty"`
	StallSeconds  int     `json:"stall_seconds,omitempty"`

	OverflowThreshold       float64 `json:"overflow_threshold,omitempty"`
	AutoCompactThreshold    float64 `json:"auto_compact_threshold,omitempty"`
	AutoCompactKeepFraction float64 `json:"auto_compact_keep_fraction,omitempty"`
	OverflowKeepFraction    float64 `json:"overflow_keep_fraction,omitempty"`

	SubAgentTimeoutSeconds int `json:"sub_agent_timeout_seconds,omitempty"`
}

// ProviderConfig holds the Anthropic adapter's connection settings.
// APIKey is never loaded from the file — see applyEnvOverrides.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
}

// ToolsConfig gates which registered tools are active (spec §4.5.8's
// disabled-list half of PolicyEngine.ActiveToolSet).
type ToolsConfig struct {
	Disabled     []string `json:"disabled,omitempty"`
	AllowedBases []string `json:"allowed_bases,omitempty"`
}

// MCPServer names one configured MCP server surfaced to clients via
// `session/start`'s `mcp_servers` field (spec.md §6) and the tools it
// contributes, without the runtime itself owning an MCP client
// connection — see DESIGN.md for why `mark3labs/mcp-go` is not wired.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// MCPConfig lists the MCP servers a client-side launcher should start.
type MCPConfig struct {
	Servers []MCPServer `json:"servers,omitempty"`
}

// TelemetryConfig configures the OpenTelemetry exporter (cmd/serve wires
// stdouttrace when Enabled, matching go.mod's
// go.opentelemetry.io/otel/exporters/stdout/stdouttrace dependency).
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ServeConfig configures the RPC Facade's optional debug WebSocket mirror
// (SPEC_FULL §4.7).
type ServeConfig struct {
	DebugWSAddr string `json:"debug_ws_addr,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex
// (used by cmd/serve.go's config file watcher to apply a reloaded config
// without invalidating any lock already held by a reader).
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Provider = src.Provider
	c.Tools = src.Tools
	c.MCP = src.MCP
	c.Telemetry = src.Telemetry
	c.Serve = src.Serve
	c.DataDir = src.DataDir
}

// DataDirPath returns the expanded data directory (spec §6: "$HOME/.opal
// on Unix, platform app-data dir on Windows" — Windows app-data resolution
// is not implemented here; ExpandHome's ~ substitution covers the Unix
// default this process actually runs under).
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DataDir == "" {
		return ExpandHome("~/.opal")
	}
	return ExpandHome(c.DataDir)
}

// AgentSnapshot returns a copy of the Agent section under the read lock.
func (c *Config) AgentSnapshot() AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Agent
}

// ToolsSnapshot returns a copy of the Tools section under the read lock.
func (c *Config) ToolsSnapshot() ToolsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tools
}

// UpdateAgent mutates the Agent section under the config's write lock, for
// `opal/config/set`.
func (c *Config) UpdateAgent(fn func(*AgentConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.Agent)
}

// UpdateProvider mutates the Provider section under the config's write
// lock, for `auth/set_key`.
func (c *Config) UpdateProvider(fn func(*ProviderConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.Provider)
}

// UpdateTools mutates the Tools section under the config's write lock.
func (c *Config) UpdateTools(fn func(*ToolsConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.Tools)
}

// Hash returns a short SHA-256 digest for optimistic-concurrency checks on
// `opal/config/set`.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := sha256.New()
	fmt.Fprintf(h, "%+v", c)
	return fmt.Sprintf("%x", h.Sum(nil)[:8])
}

// WorkspacePath returns the expanded workspace directory.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}
