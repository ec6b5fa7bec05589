package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// handleSubAgentEffect spawns a child Session+Engine, forwards its events
// wrapped as sub_agent_event, and finalizes the parent's tool result once
// the child reaches agent_end or error (spec §4.5.7). A child still running
// after cfg.SubAgentTimeoutSeconds is closed and the tool call fails.
func (e *Engine) handleSubAgentEffect(toolName, callID string, payload map[string]interface{}) {
	prompt, _ := payload["prompt"].(string)
	label, _ := payload["label"].(string)
	if label == "" {
		label = "sub-agent"
	}
	modelOverride, _ := payload["model"].(string)
	var requestedTools []string
	if raw, ok := payload["tool_names"].([]string); ok {
		requestedTools = raw
	}

	childModel := e.session.Model
	if modelOverride != "" {
		childModel.ModelID = modelOverride
	}
	childTools := tools.ChildToolNames(e.session.ToolNames, requestedTools)
	childID := uuid.NewString()
	parentLink := &sessions.ParentLink{ParentSessionID: e.session.ID, ParentCallID: callID}
	childSession := sessions.NewSession(childID, e.session.WorkingDir, e.session.SystemPrompt, childModel, childTools, parentLink)

	childBus := bus.New(childID, e.debugBus, e.metrics)
	childEngine := NewEngine(e.cfg, childSession, e.provider, childBus, e.registry, e.policy, tools.NewSupervisor())
	childEngine.SetCompactor(e.compactor)
	childEngine.SetAskHandler(e.askHandler) // depth-1: child's ask_parent reuses the parent's own ask route
	childEngine.SetSubAgentBus(e.debugBus, e.metrics)
	childEngine.Start()

	e.emit(protocol.EventSubAgentStart, map[string]interface{}{
		"parent_call_id": callID, "sub_session_id": childID, "model": childModel.ModelID, "label": label, "tools": childTools,
	})

	var once sync.Once
	doneCh := make(chan struct{})
	var toolLog []string
	var toolLogMu sync.Mutex

	forwardID := "parent-forward-" + callID
	childBus.Subscribe(forwardID, func(ev bus.Event) {
		e.emit(protocol.EventSubAgentEvent, map[string]interface{}{
			"parent_call_id": callID,
			"sub_session_id": childID,
			"inner":          map[string]interface{}{"type": ev.Type, "fields": ev.Fields},
		})
		if ev.Type == protocol.EventToolExecutionEnd {
			toolLogMu.Lock()
			toolLog = append(toolLog, fmt.Sprintf("%v", ev.Fields["tool"]))
			toolLogMu.Unlock()
		}
		if ev.Type == protocol.EventAgentEnd || ev.Type == protocol.EventError {
			once.Do(func() { close(doneCh) })
		}
	})

	childEngine.Prompt(prompt)

	go func() {
		timer := time.NewTimer(time.Duration(e.cfg.SubAgentTimeoutSeconds) * time.Second)
		defer timer.Stop()
		timedOut := false
		select {
		case <-doneCh:
		case <-timer.C:
			timedOut = true
		}
		childBus.Unsubscribe(forwardID)

		finalText := lastAssistantText(childSession.Log.Snapshot())
		childEngine.Close()

		if timedOut {
			msg := fmt.Sprintf("sub-agent timed out after %ds", e.cfg.SubAgentTimeoutSeconds)
			e.post(func() { e.finalizeToolResult(toolName, callID, msg, true) })
			return
		}

		result := tools.Ok(formatSubAgentResult(finalText, toolLog))
		e.post(func() {
			e.finalizeToolResult(toolName, callID, result.Text, false)
		})
	}()
}

func lastAssistantText(snapshot []sessions.Message) string {
	for i := len(snapshot) - 1; i >= 0; i-- {
		if snapshot[i].Kind == sessions.KindAssistant {
			return snapshot[i].Content
		}
	}
	return ""
}

func formatSubAgentResult(finalText string, toolLog []string) string {
	var b strings.Builder
	b.WriteString(finalText)
	if len(toolLog) > 0 {
		b.WriteString("\n\n[tools used: ")
		b.WriteString(strings.Join(toolLog, ", "))
		b.WriteString("]")
	}
	return b.String()
}
