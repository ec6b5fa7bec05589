package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opalhq/opal-runtime/internal/config"
	"github.com/opalhq/opal-runtime/internal/providers"
)

// authInfo is the `auth` object in session/start's response and in
// auth/status's result (spec §6: "auth:{provider, providers, status}").
type authInfo struct {
	Provider  string   `json:"provider"`
	Providers []string `json:"providers"`
	Status    string   `json:"status"`
}

// authState tracks whether the single wired provider (Anthropic) has a
// usable key. There is no OAuth browser flow wired (Non-goals: "no
// opinion on which LLM is used"); auth/login instead points the operator
// at auth/set_key, and auth/poll simply reports the resulting status.
type authState struct {
	mu       sync.Mutex
	status   string // unauthenticated | pending | ready
	provider *providers.AnthropicProvider
}

func newAuthState(cfg *config.Config) *authState {
	status := "unauthenticated"
	if cfg.Provider.APIKey != "" {
		status = "ready"
	}
	return &authState{status: status}
}

// bindProvider lets cmd/serve hand the auth state a live reference to the
// Anthropic provider so auth/set_key can rotate its key in place.
func (a *authState) bindProvider(p *providers.AnthropicProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = p
}

func (a *authState) info() authInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return authInfo{Provider: "anthropic", Providers: []string{"anthropic"}, Status: a.status}
}

func handleAuthStatus(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, f.auth.info())
}

func handleAuthLogin(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.auth.mu.Lock()
	f.auth.status = "pending"
	f.auth.mu.Unlock()
	f.reply(id, map[string]interface{}{
		"instructions": "no browser OAuth flow is wired for this provider; call auth/set_key with an Anthropic API key",
	})
}

func handleAuthPoll(f *Facade, id json.RawMessage, _ json.RawMessage) {
	f.reply(id, f.auth.info())
}

func handleAuthSetKey(f *Facade, id json.RawMessage, raw json.RawMessage) {
	var p struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		f.replyError(id, fmt.Errorf("invalid params: %w", err))
		return
	}
	if p.APIKey == "" {
		f.replyError(id, fmt.Errorf("api_key is required"))
		return
	}

	f.cfg.UpdateProvider(func(pc *config.ProviderConfig) {
		pc.APIKey = p.APIKey
	})

	f.auth.mu.Lock()
	if f.auth.provider != nil {
		f.auth.provider.SetAPIKey(p.APIKey)
	}
	f.auth.status = "ready"
	f.auth.mu.Unlock()

	f.reply(id, f.auth.info())
}
