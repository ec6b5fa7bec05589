package agent

import (
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

const skippedBySteerMessage = "Skipped — user sent a steering message"

// dispatchNextTool drives sequential tool dispatch with steer preemption
// (spec §4.5.4). It always runs on the actor goroutine; the actual tool
// invocation happens on a separate goroutine that posts its result back.
func (e *Engine) dispatchNextTool() {
	if len(e.pendingSteers) > 0 {
		e.skipRemainingTools(skippedBySteerMessage)
		return
	}
	if e.pendingToolIndex >= len(e.pendingToolCalls) {
		e.pendingToolCalls = nil
		e.pendingToolIndex = 0
		e.runTurn()
		return
	}

	tc := e.pendingToolCalls[e.pendingToolIndex]
	e.pendingToolIndex++

	t, ok := e.registry.Get(tc.Name)
	if !ok || !e.isToolActive(tc.Name) {
		e.session.Log.Append(sessions.NewToolResult(tc.CallID, "Tool not found", true))
		e.emit(protocol.EventToolExecutionEnd, map[string]interface{}{
			"tool": tc.Name, "call_id": tc.CallID, "ok": false, "output": "Tool not found",
		})
		e.dispatchNextTool()
		return
	}

	meta := t.Meta(tc.Arguments)
	e.emit(protocol.EventToolExecutionStart, map[string]interface{}{
		"tool": tc.Name, "call_id": tc.CallID, "args": tc.Arguments, "meta": meta,
	})

	toolCtx := e.startToolSpan(e.turnCtx, tc.Name, tc.CallID)

	ec := &tools.ExecContext{
		Context:    toolCtx,
		WorkingDir: e.session.WorkingDir,
		SessionID:  e.session.ID,
		CallID:     tc.CallID,
		AllowedBases: nil,
		Emit: tools.EmitterFunc(func(chunk string) {
			e.emit(protocol.EventToolOutput, map[string]interface{}{"tool": tc.Name, "chunk": chunk})
		}),
	}

	gen := e.retryGeneration
	toolName, callID, args := tc.Name, tc.CallID, tc.Arguments
	go func() {
		outcome := e.toolSup.Run(e.turnCtx, t, args, ec)
		e.post(func() {
			if gen != e.retryGeneration {
				return // superseded by abort/close while the tool was running
			}
			e.handleToolOutcome(toolName, callID, outcome)
		})
	}()
}

func (e *Engine) isToolActive(name string) bool {
	for _, active := range e.policy.ActiveToolSet(e.registry, e.session.IsSubAgent()) {
		if active == name {
			return true
		}
	}
	return false
}

// skipRemainingTools implements §4.5.4's cascade: every not-yet-started
// tool in the batch is skipped with a synthetic error ToolResult, the
// queued steer text is appended as a User message, and a new turn begins.
func (e *Engine) skipRemainingTools(reason string) {
	for ; e.pendingToolIndex < len(e.pendingToolCalls); e.pendingToolIndex++ {
		tc := e.pendingToolCalls[e.pendingToolIndex]
		e.emit(protocol.EventToolSkipped, map[string]interface{}{"tool": tc.Name, "call_id": tc.CallID})
		e.session.Log.Append(sessions.NewToolResult(tc.CallID, reason, true))
	}
	e.pendingToolCalls = nil
	e.pendingToolIndex = 0
	e.drainSteersAsUserMessages()
	e.runTurn()
}

// handleToolOutcome finalizes a direct Ok/Err outcome, or routes an Effect
// outcome to its handler (spec §4.3's Effect escape hatch).
func (e *Engine) handleToolOutcome(toolName, callID string, outcome tools.Outcome) {
	switch outcome.Kind {
	case tools.OutcomeOk:
		e.finalizeToolResult(toolName, callID, outcome.Text, false)
	case tools.OutcomeErr:
		e.finalizeToolResult(toolName, callID, outcome.Message, true)
	case tools.OutcomeEffect:
		e.handleEffect(toolName, callID, outcome.Tag, outcome.Payload)
	default:
		e.finalizeToolResult(toolName, callID, "Tool returned no outcome", true)
	}
}

func (e *Engine) finalizeToolResult(toolName, callID, text string, isErr bool) {
	e.finishToolSpan(isErr)
	e.session.Log.Append(sessions.NewToolResult(callID, text, isErr))
	e.emit(protocol.EventToolExecutionEnd, map[string]interface{}{
		"tool": toolName, "call_id": callID, "ok": !isErr, "output": text,
	})
	e.loopDetector.observe(toolName, callID, text, isErr)
	switch e.loopDetector.check() {
	case loopWarn:
		e.pendingSteers = append(e.pendingSteers, "You appear to be repeating the same tool call without progress. Try a different approach or explain what's blocking you.")
	case loopAbort:
		e.pendingToolCalls = nil
		e.pendingToolIndex = 0
		e.session.Log.Append(sessions.NewAssistant("I'm stuck repeating the same action without making progress, so I'm stopping here.", nil))
		e.finishTurn()
		return
	}
	e.dispatchNextTool()
}

func (e *Engine) handleEffect(toolName, callID, tag string, payload map[string]interface{}) {
	switch tag {
	case tools.SubAgentEffectTag:
		e.handleSubAgentEffect(toolName, callID, payload)
	case tools.AskUserEffectTag, tools.AskParentEffectTag:
		e.handleAskEffect(toolName, callID, payload)
	default:
		e.finalizeToolResult(toolName, callID, "Unknown effect: "+tag, true)
	}
}

// handleAskEffect routes ask_user/ask_parent through the injected
// AskHandler (spec §6: the server blocks the requesting tool task until
// the client responds).
func (e *Engine) handleAskEffect(toolName, callID string, payload map[string]interface{}) {
	question, _ := payload["question"].(string)
	if e.askHandler == nil {
		e.finalizeToolResult(toolName, callID, "ask_user is not available in this environment", true)
		return
	}
	sessionID, _ := payload["session_id"].(string)
	ctx := e.turnCtx
	gen := e.retryGeneration
	go func() {
		answer, err := e.askHandler.Ask(ctx, sessionID, callID, question)
		e.post(func() {
			if gen != e.retryGeneration {
				return
			}
			if err != nil {
				e.finalizeToolResult(toolName, callID, "ask failed: "+err.Error(), true)
				return
			}
			e.finalizeToolResult(toolName, callID, answer, false)
		})
	}()
}
