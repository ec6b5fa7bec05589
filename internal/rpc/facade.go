// Package rpc implements the RPC Facade (spec §4.7/§6): a line-delimited
// JSON-RPC 2.0 loop over stdin/stdout translating client requests into
// Session Supervisor / Turn Engine calls and forwarding every Event Bus
// event back as an `agent/event` notification. Generalized from goclaw's
// gateway.Server/MethodRouter dispatch-by-name pattern, re-targeted from a
// WebSocket/HTTP transport to a bufio.Scanner-driven stdio loop because
// the spec's external interface is stdio, not WebSocket (SPEC_FULL §4.7).
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/config"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/supervisor"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// handlerFunc serves one client→server method call. It writes the response
// itself (via Facade.reply/replyError) so long-running methods (agent/prompt
// returns immediately; others may not) each control their own timing.
type handlerFunc func(f *Facade, id json.RawMessage, params json.RawMessage)

// Facade is the process-wide RPC server: one per opald process, serving
// exactly one client connection over stdin/stdout (spec §6: "one frame =
// one JSON message + \n").
type Facade struct {
	cfg   *config.Config
	sup   *supervisor.Supervisor
	auth  *authState
	sessStore *sessions.Store

	out   io.Writer
	outMu sync.Mutex

	s2cSeq    int64
	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	subscribedMu sync.Mutex
	subscribed   map[string]bool // session ids this client is subscribed to

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	debug  *bus.DebugBus
	mirror *DebugMirror

	handlers map[string]handlerFunc
}

// SetDebugMirror wires an optional debug websocket mirror; every
// subsequent agent/event notification is also broadcast to it.
func (f *Facade) SetDebugMirror(m *DebugMirror) { f.mirror = m }

// New builds a Facade. debug may be nil (no process-wide debug mirror).
func New(cfg *config.Config, sup *supervisor.Supervisor, store *sessions.Store, debug *bus.DebugBus, out io.Writer) *Facade {
	f := &Facade{
		cfg:        cfg,
		sup:        sup,
		auth:       newAuthState(cfg),
		sessStore:  store,
		out:        out,
		pending:    make(map[string]chan *protocol.Response),
		subscribed: make(map[string]bool),
		limiters:   make(map[string]*rate.Limiter),
		debug:      debug,
	}
	f.handlers = defaultHandlers()
	return f
}

// store returns the session persistence store.
func (f *Facade) store() *sessions.Store { return f.sessStore }

// BindProvider lets cmd/serve hand the facade's auth state a live
// reference to the Anthropic provider so auth/set_key can rotate its key.
func (f *Facade) BindProvider(p *providers.AnthropicProvider) { f.auth.bindProvider(p) }

// Serve reads newline-delimited JSON-RPC requests from in until EOF or ctx
// is canceled. Each request is dispatched in its own goroutine so a
// blocking server→client round trip (client/ask_user) never stalls the
// read loop — spec §5: "RPC Facade: reading from its input stream, writing
// to its output stream" are the facade's only suspension points.
func (f *Facade) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		lineCopy := append([]byte(nil), line...)
		if len(lineCopy) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.handleLine(ctx, lineCopy)
		}()
	}
	return scanner.Err()
}

// handleLine parses and routes one input line: either a request/notification
// from the client, or a response to a pending server→client request.
func (f *Facade) handleLine(ctx context.Context, line []byte) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		f.writeResponse(protocol.NewErrorResponse(nil, protocol.CodeParseError, "parse error", err.Error()))
		return
	}

	// A response to one of our own server→client requests carries an id
	// but no method.
	if probe.Method == "" && len(probe.ID) > 0 {
		f.resolvePending(line)
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		f.writeResponse(protocol.NewErrorResponse(nil, protocol.CodeParseError, "parse error", err.Error()))
		return
	}

	if !protocol.ClientToServerMethods[req.Method] {
		f.writeResponse(protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound, "unknown method: "+req.Method, nil))
		return
	}

	if !f.allow(req.Method) {
		f.writeResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "rate limit exceeded for "+req.Method, nil))
		return
	}

	h, ok := f.handlers[req.Method]
	if !ok {
		f.writeResponse(protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound, "unimplemented method: "+req.Method, nil))
		return
	}
	h(f, req.ID, req.Params)
	_ = ctx
}

// allow applies a generous per-method token bucket (spec carries no rate
// limit requirement of its own; this mirrors the ambient protection every
// network-facing entrypoint in the corpus carries, grounded on
// goadesign-goa-ai's rate.Limiter-based model-client middleware).
func (f *Facade) allow(method string) bool {
	f.limitersMu.Lock()
	lim, ok := f.limiters[method]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(50), 100)
		f.limiters[method] = lim
	}
	f.limitersMu.Unlock()
	return lim.Allow()
}

// reply writes a successful result for id.
func (f *Facade) reply(id json.RawMessage, result interface{}) {
	f.writeResponse(protocol.NewResponse(id, result))
}

// replyError writes a CodeServerError response carrying err's message,
// per spec §4.7: "handlers that throw return -32000 with the error message."
func (f *Facade) replyError(id json.RawMessage, err error) {
	f.writeResponse(protocol.NewErrorResponse(id, protocol.CodeServerError, err.Error(), nil))
}

func (f *Facade) writeResponse(resp *protocol.Response) {
	f.writeLine(resp)
}

// writeLine serializes v as one JSON line, guarded by outMu so concurrent
// handler goroutines and the notification forwarder never interleave
// partial writes on stdout.
func (f *Facade) writeLine(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("rpc: failed to marshal outgoing message", "error", err)
		return
	}
	f.outMu.Lock()
	defer f.outMu.Unlock()
	f.out.Write(data)
	f.out.Write([]byte("\n"))
}

// notify pushes an agent/event notification, mirroring it to the optional
// debug websocket observer verbatim (SPEC_FULL §4.7).
func (f *Facade) notify(ev bus.Event) {
	params := protocol.AgentEventParams{SessionID: ev.SessionID, Type: ev.Type, Fields: ev.Fields}
	notification := protocol.NewNotification(protocol.MethodAgentEvent, params)
	f.writeLine(notification)
	if f.mirror != nil {
		f.mirror.Broadcast(notification)
	}
}

// subscribeSession auto-subscribes this client to a session's Event Bus
// (spec §6: "The facade auto-subscribes the calling client to events for
// every session it owns.").
func (f *Facade) subscribeSession(srv *supervisor.SessionServer) {
	f.subscribedMu.Lock()
	already := f.subscribed[srv.Session().ID]
	f.subscribed[srv.Session().ID] = true
	f.subscribedMu.Unlock()
	if already {
		return
	}
	srv.Bus().Subscribe("rpc-facade", func(ev bus.Event) {
		f.notify(ev)
	})
}

// sendServerRequest issues a server→client request (client/confirm,
// client/input, client/ask_user) and blocks the caller until the client's
// response arrives or ctx is canceled. Id is prefixed s2c-<n> per spec §6.
func (f *Facade) sendServerRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	n := atomic.AddInt64(&f.s2cSeq, 1)
	id := fmt.Sprintf("s2c-%d", n)
	idRaw, _ := json.Marshal(id)

	ch := make(chan *protocol.Response, 1)
	f.pendingMu.Lock()
	f.pending[id] = ch
	f.pendingMu.Unlock()
	defer func() {
		f.pendingMu.Lock()
		delete(f.pending, id)
		f.pendingMu.Unlock()
	}()

	f.writeLine(&protocol.Request{JSONRPC: "2.0", ID: idRaw, Method: method, Params: mustMarshal(params)})

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s", resp.Error.Message)
		}
		data, _ := json.Marshal(resp.Result)
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Facade) resolvePending(line []byte) {
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return
	}
	var id string
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		return
	}
	f.pendingMu.Lock()
	ch, ok := f.pending[id]
	f.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- &resp:
	default:
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// sessionModel resolves a Model descriptor from config defaults, allowing
// per-call overrides (used by session/start's params.model).
func (f *Facade) sessionModel(modelID string, thinking sessions.ThinkingLevel) sessions.Model {
	if modelID == "" {
		modelID = f.cfg.Agent.Model
	}
	if thinking == "" {
		thinking = sessions.ThinkingOff
	}
	return sessions.Model{
		ProviderTag:   "anthropic",
		ModelID:       modelID,
		ThinkingLevel: thinking,
		ContextWindow: f.cfg.Agent.ContextWindow,
	}
}
