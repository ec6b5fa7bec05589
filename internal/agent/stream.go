package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// handleStreamEvent applies one provider StreamEvent to partial state and
// emits the corresponding bus event (spec §4.5.2). Runs on the actor
// goroutine only.
func (e *Engine) handleStreamEvent(ev providers.StreamEvent) {
	e.lastChunkAt = time.Now()

	switch ev.Kind {
	case providers.EventTextStart:
		e.emit(protocol.EventMessageStart, map[string]interface{}{})

	case providers.EventTextDelta:
		clean, statusUpdates := e.statusTag.feed(ev.Delta)
		for _, s := range statusUpdates {
			e.emit(protocol.EventStatusUpdate, map[string]interface{}{"text": s})
		}
		if clean != "" {
			e.partialText += clean
			e.emit(protocol.EventMessageDelta, map[string]interface{}{"delta": clean})
		}

	case providers.EventTextDone:
		// text_done's final text is authoritative only if no deltas were
		// seen (some providers emit either deltas or a single done, never
		// both); prefer accumulated deltas when present.
		if e.partialText == "" && ev.Text != "" {
			e.partialText = ev.Text
		}

	case providers.EventThinkingStart:
		e.emit(protocol.EventThinkingStart, map[string]interface{}{})

	case providers.EventThinkingDelta:
		e.partialThinking += ev.Delta
		e.emit(protocol.EventThinkingDelta, map[string]interface{}{"delta": ev.Delta})

	case providers.EventToolCallStart:
		e.partialToolCalls = append(e.partialToolCalls, &partialToolCall{callID: ev.CallID, name: ev.Name})

	case providers.EventToolCallDelta:
		if pc := e.lastPartialToolCall(); pc != nil {
			pc.argumentsRaw += ev.Delta
		}

	case providers.EventToolCallDone:
		e.finalizeToolCallAccumulator(ev)

	case providers.EventUsage:
		e.applyUsage(ev.Usage)

	case providers.EventResponseDone:
		if ev.Usage != nil {
			e.applyUsage(ev.Usage)
		}

	case providers.EventStreamError:
		e.lastStreamErr = errors.New(ev.ErrReason)
		e.emit(protocol.EventError, map[string]interface{}{"reason": ev.ErrReason})
		e.handleProviderError(&providers.ClassifiedError{Class: providers.ClassPermanent, Reason: ev.ErrReason})
	}
}

func (e *Engine) lastPartialToolCall() *partialToolCall {
	if len(e.partialToolCalls) == 0 {
		return nil
	}
	return e.partialToolCalls[len(e.partialToolCalls)-1]
}

// finalizeToolCallAccumulator matches tool_call_done against an open
// partial by call_id, parsing its accumulated JSON fragments. A done event
// whose call_id matches no open partial starts a new entry; partials are
// never matched by any other key.
func (e *Engine) finalizeToolCallAccumulator(ev providers.StreamEvent) {
	var pc *partialToolCall
	for _, candidate := range e.partialToolCalls {
		if candidate.callID == ev.CallID && candidate.arguments == nil {
			pc = candidate
			break
		}
	}
	if pc == nil {
		pc = &partialToolCall{callID: ev.CallID, name: ev.Name}
		e.partialToolCalls = append(e.partialToolCalls, pc)
	}
	if pc.name == "" {
		pc.name = ev.Name
	}

	if ev.Arguments != nil {
		pc.arguments = ev.Arguments
		return
	}
	args := map[string]interface{}{}
	if pc.argumentsRaw != "" {
		if err := json.Unmarshal([]byte(pc.argumentsRaw), &args); err != nil {
			args = map[string]interface{}{}
		}
	}
	pc.arguments = args
}

func (e *Engine) applyUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	snapLen := e.session.Log.Len()
	e.session.Usage.Add(u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.ContextWindow)
	e.session.Usage.LastUsageMsgIndex = snapLen
	e.emit(protocol.EventUsageUpdate, map[string]interface{}{
		"prompt":         e.session.Usage.Prompt,
		"completion":     e.session.Usage.Completion,
		"total":          e.session.Usage.Total,
		"context_window": e.session.Usage.ContextWindow,
	})

	if e.session.Usage.ContextWindow > 0 {
		threshold := float64(e.session.Usage.ContextWindow) * e.cfg.OverflowThreshold
		if float64(u.PromptTokens) > threshold {
			e.overflowDetected = true
		}
	}
}

// handleStreamDone runs finalization (spec §4.5.3) once the provider
// channel closes.
func (e *Engine) handleStreamDone() {
	e.finishLLMSpan(e.lastStreamErr)
	e.lastStreamErr = nil

	toolCalls := make([]sessions.ToolCall, 0, len(e.partialToolCalls))
	for _, pc := range e.partialToolCalls {
		args := pc.arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		toolCalls = append(toolCalls, sessions.ToolCall{CallID: pc.callID, Name: pc.name, Arguments: args})
	}

	assistant := sessions.NewAssistant(SanitizeAssistantContent(e.partialText), toolCalls)
	e.session.Log.Append(assistant)
	e.retryCount = 0
	e.resetPartial()

	if e.overflowDetected {
		e.overflowDetected = false
		e.handleOverflowCompaction()
		return
	}

	if len(toolCalls) > 0 {
		e.status = StatusRunning
		e.pendingToolCalls = toolCalls
		e.pendingToolIndex = 0
		e.dispatchNextTool()
		return
	}

	if len(e.pendingSteers) > 0 {
		e.drainSteersAsUserMessages()
		e.runTurn()
		return
	}

	e.finishTurn()
}

func (e *Engine) drainSteersAsUserMessages() {
	for _, text := range e.pendingSteers {
		e.session.Log.Append(sessions.NewUser(text))
	}
	e.pendingSteers = nil
}

func (e *Engine) finishTurn() {
	e.status = StatusIdle
	e.emit(protocol.EventAgentEnd, map[string]interface{}{
		"prompt":     e.session.Usage.Prompt,
		"completion": e.session.Usage.Completion,
		"total":      e.session.Usage.Total,
	})
	e.finishTurnSpan(nil)
	e.maybeAutoTitle()
}

func (e *Engine) maybeAutoTitle() {
	if e.autoTitler == nil || e.session.Title != "" {
		return
	}
	if e.session.Log.Len() < 2 {
		return
	}
	var firstUser string
	for _, m := range e.session.Log.Snapshot() {
		if m.Kind == sessions.KindUser {
			firstUser = m.Content
			break
		}
	}
	if firstUser == "" {
		return
	}
	go func() {
		title, err := e.autoTitler.Title(context.Background(), firstUser)
		if err != nil || title == "" {
			return // silent failure, spec §4.5.10
		}
		e.post(func() {
			if e.session.Title == "" {
				e.session.Title = title
			}
		})
	}()
}

// maybeAutoCompact checks the hybrid token estimate before starting a new
// turn and compacts if it crosses Θ_autocompact (spec §4.5.5).
func (e *Engine) maybeAutoCompact() {
	if e.session.Usage.ContextWindow <= 0 {
		return
	}
	snapshot := e.session.Log.Snapshot()
	estimate := estimateLogTokens(snapshot, e.session.Usage)
	ratio := float64(estimate) / float64(e.session.Usage.ContextWindow)
	if ratio < e.cfg.AutoCompactThreshold {
		return
	}

	e.emit(protocol.EventCompactionStart, map[string]interface{}{"reason": "auto"})
	keep := int(float64(e.session.Usage.ContextWindow) * e.cfg.AutoCompactKeepFraction)
	newMessages, err := e.compactor.Compact(snapshot, keep)
	if err != nil {
		e.emit(protocol.EventError, map[string]interface{}{"reason": "compact_error: " + err.Error()})
		return
	}
	before := len(snapshot)
	e.session.Log.CompactionSwap(newMessages)
	e.session.CompactionCount++
	e.session.Usage.LastUsageMsgIndex = 0
	e.session.Usage.CurrentContextTokens = 0
	e.emit(protocol.EventCompactionEnd, map[string]interface{}{"before": before, "after": len(newMessages)})
}

// Compact forces an immediate compaction regardless of Θ_autocompact,
// backing the `session/compact` RPC method (spec §4.7). done is invoked
// from the engine's own actor goroutine with the pre/post message counts.
func (e *Engine) Compact(done func(before, after int, err error)) {
	e.post(func() {
		snapshot := e.session.Log.Snapshot()
		e.emit(protocol.EventCompactionStart, map[string]interface{}{"reason": "manual"})
		keep := int(float64(e.session.Usage.ContextWindow) * e.cfg.AutoCompactKeepFraction)
		newMessages, err := e.compactor.Compact(snapshot, keep)
		if err != nil {
			e.emit(protocol.EventError, map[string]interface{}{"reason": "compact_error: " + err.Error()})
			if done != nil {
				done(0, 0, err)
			}
			return
		}
		before := len(snapshot)
		e.session.Log.CompactionSwap(newMessages)
		e.session.CompactionCount++
		e.session.Usage.LastUsageMsgIndex = 0
		e.session.Usage.CurrentContextTokens = 0
		e.emit(protocol.EventCompactionEnd, map[string]interface{}{"before": before, "after": len(newMessages)})
		if done != nil {
			done(before, len(newMessages), nil)
		}
	})
}

// handleOverflowCompaction recovers from an overflow signaled mid-stream:
// compact aggressively, then auto-retry the whole turn without consuming
// a retry attempt (spec §4.5.5).
func (e *Engine) handleOverflowCompaction() {
	e.emit(protocol.EventCompactionStart, map[string]interface{}{"reason": "overflow"})
	snapshot := e.session.Log.Snapshot()
	keep := int(float64(e.session.Usage.ContextWindow) * e.cfg.OverflowKeepFraction)
	newMessages, err := e.compactor.Compact(snapshot, keep)
	if err != nil {
		e.emit(protocol.EventError, map[string]interface{}{"reason": "compact_error: " + err.Error()})
		e.status = StatusIdle
		e.finishTurnSpan(err)
		return
	}
	before := len(snapshot)
	e.session.Log.CompactionSwap(newMessages)
	e.session.CompactionCount++
	e.session.Usage.LastUsageMsgIndex = 0
	e.session.Usage.CurrentContextTokens = 0
	e.emit(protocol.EventCompactionEnd, map[string]interface{}{"before": before, "after": len(newMessages)})
	e.runTurn()
}

// handleProviderError classifies a provider failure and either schedules a
// retry, recovers from overflow, or gives up (spec §4.5.5, §7).
func (e *Engine) handleProviderError(err error) {
	classified, ok := err.(*providers.ClassifiedError)
	if !ok {
		classified = &providers.ClassifiedError{Class: providers.ClassTransient, Reason: err.Error(), Cause: err}
	}

	switch classified.Class {
	case providers.ClassOverflow:
		e.overflowDetected = false
		e.handleOverflowCompaction()
		return

	case providers.ClassTransient:
		if e.retryCount >= e.cfg.MaxRetries {
			e.emit(protocol.EventError, map[string]interface{}{"reason": classified.Reason})
			e.status = StatusIdle
			e.finishTurnSpan(classified)
			return
		}
		e.retryCount++
		delay := e.backoffDelay(classified, e.retryCount)
		e.emit(protocol.EventRetry, map[string]interface{}{
			"attempt": e.retryCount, "delay_ms": int(delay.Milliseconds()), "reason": classified.Reason,
		})
		gen := e.retryGeneration
		time.AfterFunc(delay, func() {
			e.post(func() {
				if gen != e.retryGeneration {
					return // aborted/closed during the delay: discard silently
				}
				e.runTurn()
			})
		})

	default: // permanent
		e.emit(protocol.EventError, map[string]interface{}{"reason": classified.Reason})
		e.status = StatusIdle
		e.finishTurnSpan(classified)
	}
}

func (e *Engine) backoffDelay(classified *providers.ClassifiedError, attempt int) time.Duration {
	if classified.RetryAfterMs > 0 {
		return time.Duration(classified.RetryAfterMs) * time.Millisecond
	}
	d := time.Duration(e.cfg.BaseDelayMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	capMs := time.Duration(e.cfg.MaxDelayMs) * time.Millisecond
	if d > capMs {
		d = capMs
	}
	return d
}
