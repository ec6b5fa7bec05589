// Package agent implements the Turn Engine (spec §4.5): the per-session
// state machine idle → running → streaming → (tools|idle), and everything
// it owns — retry/backoff, overflow recovery, steer draining, sequential
// tool dispatch, sub-agent fan-out, usage accounting, auto-compaction, the
// status-tag extractor, and the stall watchdog. Generalized from goclaw's
// internal/agent/loop.go (Loop.Run/runLoop): that Think→Act→Observe cycle
// with sequential-then-parallel tool dispatch, slog-based logging, and a
// loop detector is the direct ancestor of this state machine, reworked
// into the spec's explicit idle/running/streaming states, one-actor-mailbox
// concurrency model (§9), and the additional recovery/forwarding behavior
// the spec calls for that goclaw's Loop does not have (overflow
// compaction, steer preemption mid-batch, sub-agent event wrapping).
package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// Status is the Turn Engine's externally-visible state (spec §4.5.1).
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusStreaming Status = "streaming"
)

// EngineConfig tunes retry/backoff, overflow/auto-compaction thresholds,
// and the stall watchdog. Zero values are replaced by DefaultEngineConfig's
// defaults in NewEngine.
type EngineConfig struct {
	MaxRetries  int
	BaseDelayMs int
	MaxDelayMs  int

	StallSeconds      int
	StallRearmSeconds int

	OverflowThreshold       float64 // Θ_overflow, default 1.0
	AutoCompactThreshold    float64 // Θ_autocompact, default 0.80
	AutoCompactKeepFraction float64 // context_window/N, default 1/4
	OverflowKeepFraction    float64 // context_window/N, default 1/5

	SubAgentTimeoutSeconds int
}

// DefaultEngineConfig returns the spec's literal defaults (§4.5.5, §4.5.9).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:              3,
		BaseDelayMs:             2000,
		MaxDelayMs:              60000,
		StallSeconds:            10,
		StallRearmSeconds:       5,
		OverflowThreshold:       1.0,
		AutoCompactThreshold:    0.80,
		AutoCompactKeepFraction: 0.25,
		OverflowKeepFraction:    0.20,
		SubAgentTimeoutSeconds:  tools.DefaultSubAgentTimeout,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelayMs <= 0 {
		c.BaseDelayMs = d.BaseDelayMs
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = d.MaxDelayMs
	}
	if c.StallSeconds <= 0 {
		c.StallSeconds = d.StallSeconds
	}
	if c.StallRearmSeconds <= 0 {
		c.StallRearmSeconds = d.StallRearmSeconds
	}
	if c.OverflowThreshold <= 0 {
		c.OverflowThreshold = d.OverflowThreshold
	}
	if c.AutoCompactThreshold <= 0 {
		c.AutoCompactThreshold = d.AutoCompactThreshold
	}
	if c.AutoCompactKeepFraction <= 0 {
		c.AutoCompactKeepFraction = d.AutoCompactKeepFraction
	}
	if c.OverflowKeepFraction <= 0 {
		c.OverflowKeepFraction = d.OverflowKeepFraction
	}
	if c.SubAgentTimeoutSeconds <= 0 {
		c.SubAgentTimeoutSeconds = d.SubAgentTimeoutSeconds
	}
	return c
}

// AskHandler routes a blocking question to whoever can answer it: the RPC
// Facade's client/ask_user round trip for a top-level session, or (when
// reused for a sub-agent's ask_parent tool) the same mechanism one level
// up. Spec §6: "the server blocks the requesting tool task until the
// client responds."
type AskHandler interface {
	Ask(ctx context.Context, sessionID, callID, question string) (string, error)
}

// AutoTitler asks the provider for a short title after the first turn
// (spec §4.5.10). Failure is silent; nil disables auto-titling.
type AutoTitler interface {
	Title(ctx context.Context, firstUserMessage string) (string, error)
}

// partialToolCall accumulates one streamed tool call's arguments JSON
// fragments until tool_call_done (spec §4.5.2).
type partialToolCall struct {
	callID       string
	name         string
	argumentsRaw string
	arguments    map[string]interface{}
}

// Engine is the Turn Engine for one Session. All mutable state is owned
// exclusively by the goroutine draining mailbox (spec §9: "one logical
// writer to session state; all stimulus arrives through a single ordered
// mailbox"). Every other method only enqueues a closure.
type Engine struct {
	cfg EngineConfig

	session  *sessions.Session
	provider providers.Provider
	bus      *bus.Bus
	registry *tools.Registry
	policy   *tools.PolicyEngine
	toolSup  *tools.Supervisor

	compactor  Compactor
	askHandler AskHandler
	autoTitler AutoTitler

	// debugBus/metrics are carried only so sub-agent spawning can build a
	// child Bus the same way the Session Supervisor would.
	debugBus *bus.DebugBus
	metrics  *bus.Metrics

	mailbox chan func()
	stopCh  chan struct{}
	stopped bool

	status Status

	partialText      string
	partialThinking  string
	partialToolCalls []*partialToolCall
	statusTag        statusTagExtractor

	pendingSteers []string

	pendingToolCalls []sessions.ToolCall
	pendingToolIndex int

	retryCount       int
	retryGeneration  int
	overflowDetected bool

	turnCtx    context.Context
	turnCancel context.CancelFunc

	lastChunkAt  time.Time
	streamGen    int
	currentHandle providers.StreamHandle

	loopDetector loopDetector

	turnSpanCtx context.Context
	turnSpan    trace.Span
	llmSpan     trace.Span
	toolSpan    trace.Span
	lastStreamErr error

	started bool

	// onCrash is invoked (engine-internal panic recovered) from the actor
	// goroutine right before it exits; the Session Supervisor uses this to
	// replace the Engine per spec §4.6's "Turn Engine crash while
	// streaming: the supervisor restarts the Turn Engine."
	onCrash func(recovered interface{})
}

// SetCrashHandler wires the Session Supervisor's restart hook. Called at
// most once per crash, on the engine's actor goroutine right before that
// goroutine exits.
func (e *Engine) SetCrashHandler(fn func(recovered interface{})) { e.onCrash = fn }

// EngineState is a point-in-time snapshot returned by State() (spec
// §4.7's `agent/state`).
type EngineState struct {
	Status        Status
	RetryCount    int
	Usage         sessions.TokenUsage
	PendingSteers []string
}

// NewEngine constructs a Turn Engine for session over provider, publishing
// to eventBus, dispatching tools from registry filtered by policy, and
// running them under toolSup.
func NewEngine(
	cfg EngineConfig,
	session *sessions.Session,
	provider providers.Provider,
	eventBus *bus.Bus,
	registry *tools.Registry,
	policy *tools.PolicyEngine,
	toolSup *tools.Supervisor,
) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		session:  session,
		provider: provider,
		bus:      eventBus,
		registry: registry,
		policy:   policy,
		toolSup:  toolSup,
		compactor: &HeuristicCompactor{},
		mailbox:  make(chan func(), 64),
		stopCh:   make(chan struct{}),
		status:   StatusIdle,
	}
}

// SetCompactor overrides the default compaction strategy.
func (e *Engine) SetCompactor(c Compactor) { e.compactor = c }

// SetAskHandler wires the blocking ask_user/ask_parent round trip.
func (e *Engine) SetAskHandler(h AskHandler) { e.askHandler = h }

// SetAutoTitler wires the optional post-turn auto-title background task.
func (e *Engine) SetAutoTitler(t AutoTitler) { e.autoTitler = t }

// SetSubAgentBus wires the shared debug bus/metrics a spawned child's Bus
// should forward into, mirroring the parent's own construction.
func (e *Engine) SetSubAgentBus(debug *bus.DebugBus, metrics *bus.Metrics) {
	e.debugBus = debug
	e.metrics = metrics
}

// Start launches the actor goroutine. Idempotent.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	go e.run()
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.mailbox:
			if crashed := e.runSafely(fn); crashed != nil {
				if e.onCrash != nil {
					e.onCrash(crashed)
				}
				return
			}
		case <-e.stopCh:
			return
		}
	}
}

// runSafely executes one mailbox closure, recovering a panic rather than
// taking down the whole process. A crashed turn leaves no partial
// assistant message behind (spec §4.6): the Session Supervisor discards
// this Engine and starts a fresh one over the same Message Log.
func (e *Engine) runSafely(fn func()) (recovered interface{}) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}

// post enqueues fn to run on the actor goroutine. Safe to call even before
// Start(); fn runs once Start() begins draining. Dropped silently if the
// engine has already been closed.
func (e *Engine) post(fn func()) {
	select {
	case e.mailbox <- fn:
	case <-e.stopCh:
	}
}

// Prompt appends a user message and starts a new turn. Spec §4.5.1: idle +
// prompt → running; an idle steer behaves identically.
func (e *Engine) Prompt(text string) {
	e.post(func() { e.onPrompt(text) })
}

// Steer enqueues a steering message. If the engine is idle, it behaves
// exactly like Prompt. Otherwise it is queued and drained between tool
// calls or after the current stream finishes (spec §9's Open Question:
// "source queues and drains only between tools and after done").
func (e *Engine) Steer(text string) {
	e.post(func() {
		if e.status == StatusIdle {
			e.onPrompt(text)
			return
		}
		e.pendingSteers = append(e.pendingSteers, text)
	})
}

// Abort cancels the in-flight stream/tool task and returns to idle. A
// second Abort while already idle is a no-op (spec §8: "abort after abort
// is a no-op").
func (e *Engine) Abort() {
	e.post(func() { e.onAbort() })
}

// Close tears down the engine: cancels everything in flight and stops the
// actor goroutine. Blocks until the actor has drained the close closure.
func (e *Engine) Close() {
	done := make(chan struct{})
	e.post(func() {
		e.onAbort()
		close(done)
	})
	select {
	case <-done:
	case <-e.stopCh:
	}
	if !e.stopped {
		e.stopped = true
		close(e.stopCh)
	}
}

// State returns a snapshot of the engine's current status.
func (e *Engine) State() EngineState {
	respCh := make(chan EngineState, 1)
	e.post(func() {
		respCh <- EngineState{
			Status:        e.status,
			RetryCount:    e.retryCount,
			Usage:         e.session.Usage,
			PendingSteers: append([]string(nil), e.pendingSteers...),
		}
	})
	select {
	case s := <-respCh:
		return s
	case <-e.stopCh:
		return EngineState{Status: StatusIdle}
	}
}

func (e *Engine) emit(eventType string, fields map[string]interface{}) {
	e.bus.Broadcast(bus.Event{Type: eventType, Fields: fields})
}

// SetModel swaps the active model descriptor wholesale (spec §3: "a model
// switch replaces the value wholesale rather than mutating it in place"),
// backing the `model/set` RPC method. Takes effect on the next turn; an
// in-flight stream keeps running against the model it started with.
func (e *Engine) SetModel(model sessions.Model) {
	e.post(func() {
		e.session.Model = model
		e.session.Usage.ContextWindow = model.ContextWindow
	})
}

// SetThinking changes only the thinking-effort dial, backing `thinking/set`.
func (e *Engine) SetThinking(level sessions.ThinkingLevel) {
	e.post(func() {
		e.session.Model.ThinkingLevel = level
	})
}

func (e *Engine) onPrompt(text string) {
	e.session.Log.Append(sessions.NewUser(text))
	e.emit(protocol.EventAgentStart, map[string]interface{}{})
	e.status = StatusRunning
	e.retryCount = 0
	e.retryGeneration++
	e.overflowDetected = false
	e.startTurnSpan()
	e.runTurn()
}

func (e *Engine) onAbort() {
	wasIdle := e.status == StatusIdle
	e.retryGeneration++ // discard any scheduled retry
	e.streamGen++        // supersede any in-flight stream goroutine's posts
	if e.status == StatusStreaming && e.currentHandle != nil {
		e.provider.Cancel(e.currentHandle)
		e.currentHandle = nil
	}
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
	e.toolSup.CancelAll()
	e.pendingSteers = nil
	e.pendingToolCalls = nil
	e.pendingToolIndex = 0
	e.resetPartial()
	if !wasIdle {
		e.status = StatusIdle
		e.emit(protocol.EventAgentAbort, map[string]interface{}{})
		e.finishToolSpan(true)
		e.finishLLMSpan(nil)
		e.finishTurnSpan(nil)
	}
}

func (e *Engine) resetPartial() {
	e.partialText = ""
	e.partialThinking = ""
	e.partialToolCalls = nil
	e.statusTag = statusTagExtractor{}
}

// runTurn opens a new provider stream for the current log (spec §4.5.1's
// `run_turn`). Auto-compaction is checked first (§4.5.5).
func (e *Engine) runTurn() {
	e.maybeAutoCompact()

	turnParent := e.turnSpanCtx
	if turnParent == nil {
		turnParent = context.Background()
	}
	spanCtx, _ := e.startLLMSpan(turnParent)
	e.turnCtx, e.turnCancel = context.WithCancel(spanCtx)
	ctx := e.turnCtx

	snapshot := e.session.Log.Snapshot()
	messages := renderMessages(snapshot)
	toolDefs := e.activeToolDefs()

	ch, handle, err := e.provider.Stream(ctx, e.session.Model.ModelID, messages, toolDefs)
	if err != nil {
		e.finishLLMSpan(err)
		e.handleProviderError(err)
		return
	}

	e.currentHandle = handle
	e.status = StatusStreaming
	e.resetPartial()
	e.lastChunkAt = time.Now()
	e.streamGen++
	sgen := e.streamGen
	e.armStallWatchdog(sgen)

	go func() {
		for ev := range ch {
			event := ev
			e.post(func() {
				if e.streamGen != sgen {
					return // superseded by abort/new turn
				}
				e.handleStreamEvent(event)
			})
		}
		e.post(func() {
			if e.streamGen != sgen {
				return
			}
			e.handleStreamDone()
		})
	}()
}

func (e *Engine) armStallWatchdog(sgen int) {
	time.AfterFunc(time.Duration(e.cfg.StallSeconds)*time.Second, func() {
		e.post(func() { e.checkStall(sgen) })
	})
}

func (e *Engine) checkStall(sgen int) {
	if e.streamGen != sgen || e.status != StatusStreaming {
		return
	}
	idle := time.Since(e.lastChunkAt)
	if idle >= time.Duration(e.cfg.StallSeconds)*time.Second {
		e.emit(protocol.EventStreamStalled, map[string]interface{}{"seconds_idle": int(idle.Seconds())})
	}
	time.AfterFunc(time.Duration(e.cfg.StallRearmSeconds)*time.Second, func() {
		e.post(func() { e.checkStall(sgen) })
	})
}

// activeToolDefs computes the active tool set (§4.5.8) and renders it as
// provider-facing ToolDefinitions.
func (e *Engine) activeToolDefs() []providers.ToolDefinition {
	names := e.policy.ActiveToolSet(e.registry, e.session.IsSubAgent())
	out := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(context.Background()),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

func renderMessages(snapshot []sessions.Message) []providers.Message {
	out := make([]providers.Message, 0, len(snapshot))
	for _, m := range snapshot {
		switch m.Kind {
		case sessions.KindSystem:
			out = append(out, providers.Message{Role: "system", Content: m.Content})
		case sessions.KindUser:
			out = append(out, providers.Message{Role: "user", Content: m.Content})
		case sessions.KindSkill:
			out = append(out, providers.Message{Role: "system", Content: fmt.Sprintf("[skill:%s]\n%s", m.SkillName, m.SkillInstructions)})
		case sessions.KindAssistant:
			tcs := make([]providers.ToolCallIn, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, providers.ToolCallIn{CallID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments})
			}
			out = append(out, providers.Message{Role: "assistant", Content: m.Content, ToolCalls: tcs})
		case sessions.KindToolResult:
			out = append(out, providers.Message{Role: "tool", Content: m.Content, ToolCallID: m.CallID, IsError: m.IsError})
		}
	}
	return out
}
