// Package tools implements the Tool Registry & Runner (spec §4.3): tool
// resolution, argument validation, and crash-contained execution, plus a
// small set of reference tools (shell, read/write file, sub_agent,
// ask_user) so the Turn Engine has something real to execute in tests and
// in cmd/opald. Generalized from goclaw's internal/tools package — its
// Result type (Ok/ForUser/IsError/Async) is the direct ancestor of
// ToolOutcome, and its PolicyEngine's group/profile/alias/deny-list
// pipeline is the direct ancestor of the active-tool-set filter (§4.5.8).
package tools

import "context"

// Outcome is a tool's result. Exactly one of the three shapes applies;
// callers type-switch on Kind.
type OutcomeKind string

const (
	OutcomeOk     OutcomeKind = "ok"
	OutcomeErr    OutcomeKind = "err"
	OutcomeEffect OutcomeKind = "effect"
)

// Outcome mirrors spec §4.3's ToolOutcome = Ok{text, meta?} | Err{message}
// | Effect{tag, payload}. Effect lets a tool ask the Turn Engine to
// perform a side effect (e.g. load_skill) instead of returning text
// directly; the engine translates the effect into a synthetic tool
// result.
type Outcome struct {
	Kind OutcomeKind

	// Ok
	Text string
	Meta map[string]interface{}

	// Err
	Message string

	// Effect
	Tag     string
	Payload map[string]interface{}
}

// Ok builds an Ok outcome.
func Ok(text string) Outcome { return Outcome{Kind: OutcomeOk, Text: text} }

// OkMeta builds an Ok outcome with metadata.
func OkMeta(text string, meta map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeOk, Text: text, Meta: meta}
}

// Err builds an Err outcome.
func Err(message string) Outcome { return Outcome{Kind: OutcomeErr, Message: message} }

// Effect builds an Effect outcome.
func Effect(tag string, payload map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeEffect, Tag: tag, Payload: payload}
}

// Emitter streams interleaved tool output (spec §9: "tools get an
// emit(chunk) capability rather than a return-on-completion API"),
// intentionally a single-method interface rather than a bare closure per
// the same design note.
type Emitter interface {
	Emit(chunk string)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(chunk string)

// Emit implements Emitter.
func (f EmitterFunc) Emit(chunk string) { f(chunk) }

// ExecContext is passed to every tool invocation (spec §4.3).
type ExecContext struct {
	Context context.Context

	WorkingDir string
	SessionID  string
	CallID     string

	Config map[string]interface{}

	Emit Emitter

	// AllowedBases lets tools read from data directories outside
	// WorkingDir (e.g. a shared skills directory).
	AllowedBases []string

	// SessionSnapshot is an opaque reference to session state a tool may
	// need. No tool in this package reads it; a sub-agent child is seeded
	// from the Turn Engine's own session instead.
	SessionSnapshot interface{}
}

// Tool is a value implementing the spec's five-method Tool contract.
type Tool interface {
	Name() string
	Description(ctx context.Context) string
	Parameters() map[string]interface{}
	Meta(args map[string]interface{}) string
	Execute(args map[string]interface{}, ec *ExecContext) Outcome
}
