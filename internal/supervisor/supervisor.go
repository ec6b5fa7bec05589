// Package supervisor implements the Session Supervisor (spec §4.6): the
// tree rooted at SessionServer (MessageLog + TurnEngine + ToolTaskSupervisor
// + SubAgentSupervisor) and the process-wide registry of top-level
// sessions. Generalized from goclaw's internal/sessions.Manager — same
// mutex-protected map-by-key registry and lifecycle methods
// (GetOrCreate/Delete/List), reworked around *agent.Engine instances
// instead of a plain message-history struct, and adding the crash-isolation
// policies spec §4.6 names that goclaw's Manager has no equivalent for
// (goclaw never restarts a crashed Loop; panics there propagate to the
// channel adapter's own recover wrapper instead).
package supervisor

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opalhq/opal-runtime/internal/agent"
	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/tools"
)

// Metrics is the Session Supervisor's prometheus gauge set (SPEC_FULL §4.6
// addition), grounded on vellankikoti-kubilitics-os-emergent's
// client_golang usage for service-level gauges.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	ActiveSubAgents prometheus.Gauge
	ActiveToolTasks prometheus.Gauge
}

// NewMetrics registers the gauges on reg and returns the handle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opal_active_sessions",
			Help: "Number of top-level sessions currently held by the supervisor.",
		}),
		ActiveSubAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opal_active_sub_agents",
			Help: "Number of sub-agent sessions currently running across all sessions.",
		}),
		ActiveToolTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opal_active_tool_tasks",
			Help: "Number of tool tasks currently executing across all sessions.",
		}),
	}
	reg.MustRegister(m.ActiveSessions, m.ActiveSubAgents, m.ActiveToolTasks)
	return m
}

// Deps bundles the process-wide collaborators every SessionServer shares:
// the provider used to talk to the model, the tool registry, the bus's
// shared debug mirror, and the Turn Engine's tuning.
type Deps struct {
	Provider providers.Provider
	Registry *tools.Registry
	Policy   *tools.PolicyEngine
	EngineCfg agent.EngineConfig
	DebugBus  *bus.DebugBus
	BusMetrics *bus.Metrics
	Metrics   *Metrics
}

// Supervisor is the process-wide registry of top-level SessionServers —
// one per client-visible session/agent/abilities combination (spec §4.6's
// SessionServer is the unit this registry tracks; sub-agents live one
// level down, inside their parent SessionServer, not here).
type Supervisor struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*SessionServer
}

// New creates an empty Supervisor sharing deps across every session it
// creates.
func New(deps Deps) *Supervisor {
	return &Supervisor{
		deps:     deps,
		sessions: make(map[string]*SessionServer),
	}
}

// Create starts a new top-level SessionServer with the given id, working
// directory, system prompt, and model, and registers it. Returns an error
// if id is already in use.
func (s *Supervisor) Create(id, workingDir, systemPrompt string, model sessions.Model) (*SessionServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("supervisor: session %q already exists", id)
	}
	toolNames := s.deps.Policy.ActiveToolSet(s.deps.Registry, false)
	sess := sessions.NewSession(id, workingDir, systemPrompt, model, toolNames, nil)
	server := newSessionServer(sess, s.deps)
	server.Start()
	s.sessions[id] = server
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSessions.Inc()
	}
	return server, nil
}

// Get returns the SessionServer for id, if any.
func (s *Supervisor) Get(id string) (*SessionServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.sessions[id]
	return srv, ok
}

// Close tears down session id's whole tree (spec §4.6: "SessionServer
// crash: all children die"; Close is the graceful counterpart) and
// unregisters it. A second Close on an unknown id is a no-op.
func (s *Supervisor) Close(id string) {
	s.mu.Lock()
	srv, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	srv.Close()
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSessions.Dec()
	}
}

// List returns the ids of every currently-registered top-level session.
func (s *Supervisor) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
