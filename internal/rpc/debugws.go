package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// DebugMirror re-broadcasts every agent/event notification verbatim to any
// connected browser (SPEC_FULL §4.7's optional --debug-ws-addr mirror),
// grounded on goclaw's gateway.Server.BroadcastEvent/Client but reduced to
// a read-only observer: a debug client sends nothing, it only watches.
type DebugMirror struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewDebugMirror creates a mirror with an open CORS policy — this is a
// local development aid, never a production-facing listener.
func NewDebugMirror() *DebugMirror {
	return &DebugMirror{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ListenAndServe starts the mirror's HTTP server at addr. Blocks until the
// listener fails; callers run it in its own goroutine.
func (m *DebugMirror) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug", m.handleConn)
	slog.Info("debug websocket mirror listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func (m *DebugMirror) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("debug mirror: upgrade failed", "error", err)
		return
	}
	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()

	// Drain (and discard) anything the client sends; this unblocks the
	// read deadline machinery and detects disconnects.
	go func() {
		defer m.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *DebugMirror) remove(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.clients, conn)
	m.mu.Unlock()
	conn.Close()
}

// Broadcast marshals v (a notification value) to JSON and pushes it to
// every connected debug client, dropping any client whose write fails.
func (m *DebugMirror) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.clients))
	for c := range m.clients {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			m.remove(c)
		}
	}
}
