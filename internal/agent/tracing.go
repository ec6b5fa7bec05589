package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits one span per agent turn and one child span per LLM call and
// per tool call underneath it, grounded on loop_tracing.go's span-per-call
// shape but built on the real OpenTelemetry SDK (the process wires a
// TracerProvider at startup; with none configured, otel's no-op tracer
// makes every call below a cheap noop).
var tracer = otel.Tracer("github.com/opalhq/opal-runtime/internal/agent")

// startTurnSpan opens the root span for one prompt/steer-driven turn.
func (e *Engine) startTurnSpan() {
	e.turnSpanCtx, e.turnSpan = tracer.Start(context.Background(), "agent_turn",
		trace.WithAttributes(attribute.String("session_id", e.session.ID)))
}

// finishTurnSpan closes the turn span, if one is open. err may be nil.
func (e *Engine) finishTurnSpan(err error) {
	if e.turnSpan == nil {
		return
	}
	if err != nil {
		e.turnSpan.RecordError(err)
		e.turnSpan.SetStatus(codes.Error, err.Error())
	}
	e.turnSpan.End()
	e.turnSpan = nil
	e.turnSpanCtx = nil
}

// startLLMSpan opens a child span for one provider stream call, parented to
// the current turn span when one is open.
func (e *Engine) startLLMSpan(ctx context.Context) (context.Context, trace.Span) {
	spanCtx, span := tracer.Start(ctx, "llm_call",
		trace.WithAttributes(
			attribute.String("session_id", e.session.ID),
			attribute.String("model", e.session.Model.ModelID),
		))
	e.llmSpan = span
	return spanCtx, span
}

// finishLLMSpan closes the current LLM span, if one is open. err may be nil.
func (e *Engine) finishLLMSpan(err error) {
	if e.llmSpan == nil {
		return
	}
	if err != nil {
		e.llmSpan.RecordError(err)
		e.llmSpan.SetStatus(codes.Error, err.Error())
	}
	e.llmSpan.End()
	e.llmSpan = nil
}

// startToolSpan opens a child span for one tool invocation.
func (e *Engine) startToolSpan(ctx context.Context, toolName, callID string) context.Context {
	spanCtx, span := tracer.Start(ctx, "tool_call",
		trace.WithAttributes(
			attribute.String("tool", toolName),
			attribute.String("call_id", callID),
		))
	e.toolSpan = span
	return spanCtx
}

// finishToolSpan closes the current tool span, if one is open.
func (e *Engine) finishToolSpan(isErr bool) {
	if e.toolSpan == nil {
		return
	}
	if isErr {
		e.toolSpan.SetStatus(codes.Error, "tool returned an error result")
	}
	e.toolSpan.End()
	e.toolSpan = nil
}
