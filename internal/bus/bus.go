// Package bus implements the per-session Event Bus: a bounded-queue
// multicast of typed events to subscribers (UI, parent-session forwarders,
// test observers), generalized from goclaw's single global
// bus.EventPublisher (Subscribe/Unsubscribe/Broadcast) into one Bus per
// session plus a process-wide debug bus.
package bus

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultQueueSize is the default bounded per-subscriber queue depth.
const DefaultQueueSize = 256

// Event is one typed event emitted by a session's Turn Engine. Type is one
// of the protocol.Event* constants; Fields carries the type-specific
// payload (already snake_case, ready for wire encoding).
type Event struct {
	SessionID string
	Type      string
	Fields    map[string]interface{}
}

// EventHandler receives events pushed to a subscriber. It must not block
// for long; the Bus delivers asynchronously over a bounded channel, but a
// handler that blocks forever will still eventually starve its own queue.
type EventHandler func(Event)

// EventPublisher abstracts subscribe/unsubscribe/broadcast so sessions,
// sub-agent forwarders, and the RPC Facade can all depend on an interface
// rather than a concrete Bus. Matches the shape of goclaw's bus.EventPublisher.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

type subscriber struct {
	id      string
	queue   chan Event
	handler EventHandler
	done    chan struct{}
}

// Bus is one session's multicast channel plus the process-wide debug
// subscribe_all bus it forwards into.
type Bus struct {
	sessionID string
	queueSize int

	mu   sync.RWMutex
	subs map[string]*subscriber

	debug *DebugBus

	emitted prometheus.Counter
	dropped prometheus.Counter
}

// Metrics is the set of prometheus collectors the Bus increments. A nil
// Metrics disables counting (used in tests).
type Metrics struct {
	EventsEmitted *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
}

// NewMetrics registers the Bus's counter vectors on reg and returns the
// handle, mirroring supervisor.NewMetrics's shape.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opal_bus_events_emitted_total",
			Help: "Events successfully delivered to a subscriber queue, by session.",
		}, []string{"session_id"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opal_bus_events_dropped_total",
			Help: "Events dropped because a subscriber's queue was full, by session.",
		}, []string{"session_id"}),
	}
	reg.MustRegister(m.EventsEmitted, m.EventsDropped)
	return m
}

// New creates a Bus for one session, optionally forwarding every broadcast
// event into a shared DebugBus for subscribe_all observers.
func New(sessionID string, debug *DebugBus, m *Metrics) *Bus {
	b := &Bus{
		sessionID: sessionID,
		queueSize: DefaultQueueSize,
		subs:      make(map[string]*subscriber),
		debug:     debug,
	}
	if m != nil {
		b.emitted = m.EventsEmitted.WithLabelValues(sessionID)
		b.dropped = m.EventsDropped.WithLabelValues(sessionID)
	}
	return b
}

// Subscribe registers a handler under id. Re-subscribing the same id
// replaces the previous subscription (idempotent unsubscribe semantics:
// Unsubscribe followed by Subscribe is equivalent to never having
// unsubscribed in terms of observable ordering going forward).
func (b *Bus) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{
		id:      id,
		queue:   make(chan Event, b.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go b.drain(sub)
}

// Unsubscribe is idempotent: unsubscribing an unknown id is a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Broadcast fans an event out to every subscriber. Delivery is in-order
// per subscriber. A subscriber whose queue is full is considered lagged:
// the event is dropped for that subscriber only (with a synthetic
// lagged-signal event appended to its queue, best-effort), never blocking
// the producer or other subscribers.
func (b *Bus) Broadcast(event Event) {
	event.SessionID = b.sessionID
	if b.emitted != nil {
		b.emitted.Inc()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- event:
		default:
			if b.dropped != nil {
				b.dropped.Inc()
			}
			slog.Warn("event bus subscriber lagged, dropping event",
				"session_id", b.sessionID, "subscriber", s.id, "event_type", event.Type)
			select {
			case s.queue <- Event{SessionID: b.sessionID, Type: "lagged", Fields: map[string]interface{}{"subscriber": s.id}}:
			default:
			}
		}
	}

	if b.debug != nil {
		b.debug.broadcast(event)
	}
}

// drain is the subscriber's private consumer goroutine: it applies events
// to handler strictly in arrival order and exits when the subscriber is
// unsubscribed.
func (b *Bus) drain(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			sub.handler(ev)
		}
	}
}

// DebugBus is the process-wide subscribe_all multicast used for debugging;
// every session's Bus forwards its broadcasts here.
type DebugBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewDebugBus creates an empty process-wide debug bus.
func NewDebugBus() *DebugBus {
	return &DebugBus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a subscribe_all observer.
func (d *DebugBus) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{id: id, queue: make(chan Event, DefaultQueueSize), handler: handler, done: make(chan struct{})}
	d.mu.Lock()
	if old, ok := d.subs[id]; ok {
		close(old.done)
	}
	d.subs[id] = sub
	d.mu.Unlock()
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.queue:
				sub.handler(ev)
			}
		}
	}()
}

// Unsubscribe is idempotent.
func (d *DebugBus) Unsubscribe(id string) {
	d.mu.Lock()
	sub, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (d *DebugBus) broadcast(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		select {
		case s.queue <- event:
		default:
		}
	}
}
