// Package protocol defines the wire contract between a front-end and the
// opal-runtime agent server: JSON-RPC 2.0 method names, the server's sole
// notification method, and the bounded set of server→client requests.
package protocol

// ProtocolVersion is bumped whenever the wire contract changes shape.
const ProtocolVersion = 1

// Client→server methods. Each maps 1:1 onto a Turn Engine / Session
// Supervisor operation.
const (
	MethodSessionStart  = "session/start"
	MethodSessionClose  = "session/close"
	MethodAgentPrompt   = "agent/prompt"
	MethodAgentAbort    = "agent/abort"
	MethodAgentState    = "agent/state"
	MethodSessionCompact = "session/compact"
	MethodModelsList    = "models/list"
	MethodModelSet      = "model/set"
	MethodSettingsGet   = "settings/get"
	MethodSettingsSave  = "settings/save"
	MethodOpalConfigGet = "opal/config/get"
	MethodOpalConfigSet = "opal/config/set"
	MethodThinkingSet   = "thinking/set"
	MethodAuthStatus    = "auth/status"
	MethodAuthLogin     = "auth/login"
	MethodAuthPoll      = "auth/poll"
	MethodAuthSetKey    = "auth/set_key"
	MethodOpalPing      = "opal/ping"
	MethodOpalVersion   = "opal/version"
)

// Server→client request methods (bounded set per spec §4.7). The server
// blocks the requesting tool task until the client responds.
const (
	MethodClientConfirm = "client/confirm"
	MethodClientInput   = "client/input"
	MethodClientAskUser = "client/ask_user"
)

// MethodAgentEvent is the only notification the server ever sends.
const MethodAgentEvent = "agent/event"

// ServerToClientMethods is the set MethodClient* handlers must recognize;
// anything else addressed to a client is -32601 method not found.
var ServerToClientMethods = map[string]bool{
	MethodClientConfirm: true,
	MethodClientInput:   true,
	MethodClientAskUser: true,
}

// ClientToServerMethods is the full client→server dispatch table, used by
// the facade to return -32601 for anything outside it.
var ClientToServerMethods = map[string]bool{
	MethodSessionStart:   true,
	MethodSessionClose:   true,
	MethodAgentPrompt:    true,
	MethodAgentAbort:     true,
	MethodAgentState:     true,
	MethodSessionCompact: true,
	MethodModelsList:     true,
	MethodModelSet:       true,
	MethodSettingsGet:    true,
	MethodSettingsSave:   true,
	MethodOpalConfigGet:  true,
	MethodOpalConfigSet:  true,
	MethodThinkingSet:    true,
	MethodAuthStatus:     true,
	MethodAuthLogin:      true,
	MethodAuthPoll:       true,
	MethodAuthSetKey:     true,
	MethodOpalPing:       true,
	MethodOpalVersion:    true,
}
