package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opalhq/opal-runtime/internal/config"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/skills"
	"github.com/opalhq/opal-runtime/internal/supervisor"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

func defaultHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"session/start":   handleSessionStart,
		"session/close":   handleSessionClose,
		"agent/prompt":    handleAgentPrompt,
		"agent/abort":     handleAgentAbort,
		"agent/state":     handleAgentState,
		"session/compact": handleSessionCompact,
		"models/list":     handleModelsList,
		"model/set":       handleModelSet,
		"thinking/set":    handleThinkingSet,
		"settings/get":    handleSettingsGet,
		"settings/save":   handleSettingsSave,
		"opal/config/get": handleConfigGet,
		"opal/config/set": handleConfigSet,
		"opal/ping":       handlePing,
		"opal/version":    handleVersion,
		"auth/status":     handleAuthStatus,
		"auth/login":      handleAuthLogin,
		"auth/poll":       handleAuthPoll,
		"auth/set_key":    handleAuthSetKey,
	}
}

type sessionStartParams struct {
	Session      bool   `json:"session"`
	ID           string `json:"id,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
}

type sessionStartResult struct {
	SessionID      string   `json:"session_id"`
	SessionDir     string   `json:"session_dir"`
	ContextFiles   []string `json:"context_files"`
	AvailableSkills []string `json:"available_skills"`
	MCPServers     []config.MCPServer `json:"mcp_servers"`
	NodeName       string   `json:"node_name"`
	Auth           authInfo `json:"auth"`
}

func handleSessionStart(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p sessionStartParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			f.replyError(id, fmt.Errorf("invalid params: %w", err))
			return
		}
	}

	sessionID := p.ID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	workingDir := p.WorkingDir
	if workingDir == "" {
		workingDir = f.cfg.WorkspacePath()
	}

	model := f.sessionModel(p.Model, sessions.ThinkingLevel(p.Thinking))
	srv, err := f.sup.Create(sessionID, workingDir, p.SystemPrompt, model)
	if err != nil {
		f.replyError(id, err)
		return
	}
	f.subscribeSession(srv)
	f.wireAskHandler(srv)

	var sessionDir string
	if p.Session {
		sessionDir = f.store().SessionDir(sessionID)
	}

	f.reply(id, sessionStartResult{
		SessionID:       sessionID,
		SessionDir:      sessionDir,
		ContextFiles:    skills.ContextFiles(workingDir),
		AvailableSkills: skills.Discover(workingDir),
		MCPServers:      f.cfg.MCP.Servers,
		NodeName:        nodeName(),
		Auth:            f.auth.info(),
	})
}

func handleSessionClose(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	f.sup.Close(p.SessionID)
	f.reply(id, map[string]interface{}{"closed": true})
}

func (f *Facade) session(id json.RawMessage, sessionID string) (*supervisor.SessionServer, bool) {
	srv, ok := f.sup.Get(sessionID)
	if !ok {
		f.replyError(id, fmt.Errorf("unknown session_id: %s", sessionID))
	}
	return srv, ok
}

func handleAgentPrompt(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	srv.Engine().Prompt(p.Text)
	f.reply(id, map[string]interface{}{"accepted": true})
}

func handleAgentAbort(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	srv.Engine().Abort()
	f.reply(id, map[string]interface{}{"aborted": true})
}

func handleAgentState(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	state := srv.Engine().State()
	f.reply(id, map[string]interface{}{
		"status":         string(state.Status),
		"retry_count":    state.RetryCount,
		"pending_steers": state.PendingSteers,
		"usage": map[string]interface{}{
			"prompt_tokens":     state.Usage.Prompt,
			"completion_tokens": state.Usage.Completion,
			"total_tokens":      state.Usage.Total,
			"context_window":    state.Usage.ContextWindow,
		},
	})
}

func handleSessionCompact(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	srv.Engine().Compact(func(before, after int, err error) {
		if err != nil {
			f.replyError(id, err)
			return
		}
		f.reply(id, map[string]interface{}{"before": before, "after": after})
	})
}

func handleModelsList(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, map[string]interface{}{"models": supportedModels})
}

func handleModelSet(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
		Model     string `json:"model"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	model := f.sessionModel(p.Model, srv.Session().Model.ThinkingLevel)
	srv.Engine().SetModel(model)
	f.reply(id, map[string]interface{}{"model": model.ModelID})
}

func handleThinkingSet(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
		Level     string `json:"level"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	srv, ok := f.session(id, p.SessionID)
	if !ok {
		return
	}
	srv.Engine().SetThinking(sessions.ThinkingLevel(p.Level))
	f.reply(id, map[string]interface{}{"level": p.Level})
}

func handlePing(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, map[string]interface{}{"pong": time.Now().UTC().Format(time.RFC3339)})
}

func handleVersion(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, map[string]interface{}{"version": Version, "protocol_version": protocol.ProtocolVersion})
}

// supportedModels is the static set surfaced by models/list. Spec §1's
// Non-goals name "no opinion on which LLM is used"; this list is just
// what the one wired adapter (Anthropic) currently serves.
var supportedModels = []map[string]interface{}{
	{"id": "claude-opus-4-1-20250805", "provider": "anthropic", "context_window": 200000},
	{"id": "claude-sonnet-4-5-20250929", "provider": "anthropic", "context_window": 200000},
	{"id": "claude-haiku-4-5-20251001", "provider": "anthropic", "context_window": 200000},
}

// Version is set at build time via -ldflags.
var Version = "dev"

func nodeName() string {
	return "opald"
}
