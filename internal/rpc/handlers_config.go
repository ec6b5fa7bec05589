package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/opalhq/opal-runtime/internal/config"
)

func handleSettingsGet(f *Facade, id json.RawMessage, _ json.RawMessage) {
	settings, err := config.LoadSettings(f.cfg.DataDirPath())
	if err != nil {
		f.replyError(id, err)
		return
	}
	f.reply(id, settings)
}

func handleSettingsSave(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var s config.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	if err := config.SaveSettings(f.cfg.DataDirPath(), s); err != nil {
		f.replyError(id, err)
		return
	}
	f.reply(id, map[string]interface{}{"saved": true})
}

// handleConfigGet returns the subset of config safe to expose to a client
// (secrets like Provider.APIKey are never included).
func handleConfigGet(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, map[string]interface{}{
		"agent":     f.cfg.AgentSnapshot(),
		"tools":     f.cfg.ToolsSnapshot(),
		"mcp":       f.cfg.MCP,
		"telemetry": f.cfg.Telemetry,
		"serve":     f.cfg.Serve,
		"hash":      f.cfg.Hash(),
	})
}

type configSetParams struct {
	Hash  string        `json:"hash,omitempty"`
	Agent *agentPatch   `json:"agent,omitempty"`
	Tools *toolsPatch   `json:"tools,omitempty"`
}

type agentPatch struct {
	Model         string  `json:"model,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`
}

type toolsPatch struct {
	Disabled []string `json:"disabled,omitempty"`
}

// handleConfigSet applies a partial update to the live config (spec §4.7's
// opal/config/set), with an optional optimistic-concurrency hash check.
func handleConfigSet(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p configSetParams
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	if p.Hash != "" && p.Hash != f.cfg.Hash() {
		f.replyError(id, fmt.Errorf("config changed concurrently, refetch via opal/config/get"))
		return
	}
	if p.Agent != nil {
		f.cfg.UpdateAgent(func(a *config.AgentConfig) {
			if p.Agent.Model != "" {
				a.Model = p.Agent.Model
			}
			if p.Agent.ContextWindow > 0 {
				a.ContextWindow = p.Agent.ContextWindow
			}
		})
	}
	if p.Tools != nil {
		f.cfg.UpdateTools(func(t *config.ToolsConfig) {
			t.Disabled = p.Tools.Disabled
		})
	}
	f.reply(id, map[string]interface{}{"hash": f.cfg.Hash()})
}
