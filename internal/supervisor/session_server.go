package supervisor

import (
	"log/slog"
	"sync"

	"github.com/opalhq/opal-runtime/internal/agent"
	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// SessionServer is the tree spec §4.6 draws rooted at one session: the
// Message Log (owned by *sessions.Session), the Turn Engine, a per-session
// Tool Task Supervisor, and the sub-agent fan-out the Turn Engine itself
// performs (spec's SubAgentSupervisor box — folded into the Turn Engine in
// this tree rather than a separate sibling, since §4.5.7's spawn/forward
// logic already needs direct access to the engine's bus/provider/policy).
type SessionServer struct {
	deps Deps

	mu      sync.Mutex
	session *sessions.Session
	engine  *agent.Engine
	eventBus *bus.Bus
	toolSup *tools.Supervisor

	askHandler agent.AskHandler
	autoTitler agent.AutoTitler

	crashes int
}

func newSessionServer(sess *sessions.Session, deps Deps) *SessionServer {
	srv := &SessionServer{deps: deps, session: sess}
	srv.eventBus = bus.New(sess.ID, deps.DebugBus, deps.BusMetrics)
	srv.toolSup = tools.NewSupervisor()
	srv.engine = srv.buildEngine()
	if deps.Metrics != nil {
		srv.watchToolTaskGauge()
		srv.watchSubAgentGauge()
	}
	return srv
}

func (srv *SessionServer) buildEngine() *agent.Engine {
	e := agent.NewEngine(srv.deps.EngineCfg, srv.session, srv.deps.Provider, srv.eventBus, srv.deps.Registry, srv.deps.Policy, srv.toolSup)
	e.SetSubAgentBus(srv.deps.DebugBus, srv.deps.BusMetrics)
	e.SetCrashHandler(srv.onEngineCrash)
	return e
}

// onEngineCrash implements spec §4.6's "Turn Engine crash while streaming:
// the supervisor restarts the Turn Engine; on restart the new engine reads
// the Message Log and emits agent_recovered; no partial assistant message
// is kept." This runs on the crashed Engine's mailbox goroutine just
// before that goroutine exits (see Engine.run); the crashed Engine is
// simply discarded in favor of
// a freshly constructed one over the same *sessions.Session (whose Log is
// the durable source of truth — only the dead engine's in-memory partial
// buffers are lost).
func (srv *SessionServer) onEngineCrash(recovered interface{}) {
	slog.Error("turn engine panicked, restarting", "session_id", srv.session.ID, "recovered", recovered)

	srv.mu.Lock()
	srv.crashes++
	srv.engine = srv.buildEngine()
	if srv.askHandler != nil {
		srv.engine.SetAskHandler(srv.askHandler)
	}
	if srv.autoTitler != nil {
		srv.engine.SetAutoTitler(srv.autoTitler)
	}
	srv.engine.Start()
	srv.mu.Unlock()

	srv.eventBus.Broadcast(bus.Event{
		Type:   protocol.EventAgentRecovered,
		Fields: map[string]interface{}{"reason": "turn_engine_panic"},
	})
}

// Start launches the Turn Engine's actor goroutine.
func (srv *SessionServer) Start() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.engine.Start()
}

// Engine returns the current Turn Engine. It may be swapped out from under
// the caller by a crash restart; callers that hold onto the returned value
// across an await should re-fetch it afterward rather than assume it is
// still the live one.
func (srv *SessionServer) Engine() *agent.Engine {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.engine
}

// Session returns the underlying session (Message Log, Model, Usage).
func (srv *SessionServer) Session() *sessions.Session { return srv.session }

// Bus returns this session's Event Bus, for RPC Facade subscription.
func (srv *SessionServer) Bus() *bus.Bus { return srv.eventBus }

// SetAskHandler wires the blocking client/ask_user round trip into the
// current engine (and every engine a future crash restart constructs).
func (srv *SessionServer) SetAskHandler(h agent.AskHandler) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.askHandler = h
	srv.engine.SetAskHandler(h)
}

// SetAutoTitler wires the optional auto-title provider call.
func (srv *SessionServer) SetAutoTitler(t agent.AutoTitler) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.autoTitler = t
	srv.engine.SetAutoTitler(t)
}

// Close tears down this session's whole tree: cancels the Turn Engine and
// every in-flight tool task (spec §4.6: "SessionServer crash: all children
// die"; Close is its graceful counterpart).
func (srv *SessionServer) Close() {
	srv.mu.Lock()
	e := srv.engine
	srv.mu.Unlock()
	e.Close()
	srv.toolSup.CancelAll()
}

// watchToolTaskGauge increments/decrements the process-wide active-tool-task
// gauge from this session's own tool_execution_start/end events.
func (srv *SessionServer) watchToolTaskGauge() {
	srv.eventBus.Subscribe("supervisor-tool-gauge", func(ev bus.Event) {
		switch ev.Type {
		case protocol.EventToolExecutionStart:
			srv.deps.Metrics.ActiveToolTasks.Inc()
		case protocol.EventToolExecutionEnd:
			srv.deps.Metrics.ActiveToolTasks.Dec()
		}
	})
}

// watchSubAgentGauge tracks sub_agent_start against the wrapped
// agent_end/error inside subsequent sub_agent_event notifications to keep
// the active-sub-agent gauge accurate without the Turn Engine itself
// needing to know about prometheus.
func (srv *SessionServer) watchSubAgentGauge() {
	srv.eventBus.Subscribe("supervisor-subagent-gauge", func(ev bus.Event) {
		switch ev.Type {
		case protocol.EventSubAgentStart:
			srv.deps.Metrics.ActiveSubAgents.Inc()
		case protocol.EventSubAgentEvent:
			inner, _ := ev.Fields["inner"].(map[string]interface{})
			if inner == nil {
				return
			}
			innerType, _ := inner["type"].(string)
			if innerType == protocol.EventAgentEnd || innerType == protocol.EventError {
				srv.deps.Metrics.ActiveSubAgents.Dec()
			}
		}
	})
}
