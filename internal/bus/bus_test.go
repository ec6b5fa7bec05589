package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversInOrder(t *testing.T) {
	b := New("s1", nil, nil)
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	b.Subscribe("sub1", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		if ev.Type == "c" {
			close(done)
		}
	})

	b.Broadcast(Event{Type: "a"})
	b.Broadcast(Event{Type: "b"})
	b.Broadcast(Event{Type: "c"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected [a b c], got %v", got)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := New("s1", nil, nil)
	b.Unsubscribe("never-subscribed")
	b.Subscribe("sub1", func(Event) {})
	b.Unsubscribe("sub1")
	b.Unsubscribe("sub1")
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New("s1", nil, nil)
	block := make(chan struct{})
	fastDone := make(chan struct{})

	b.Subscribe("slow", func(ev Event) {
		<-block
	})
	b.Subscribe("fast", func(ev Event) {
		select {
		case <-fastDone:
		default:
			close(fastDone)
		}
	})

	for i := 0; i < DefaultQueueSize+10; i++ {
		b.Broadcast(Event{Type: "x"})
	}

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	close(block)
}

func TestBus_SessionIDStampedOnBroadcast(t *testing.T) {
	b := New("sess-42", nil, nil)
	got := make(chan Event, 1)
	b.Subscribe("sub1", func(ev Event) { got <- ev })
	b.Broadcast(Event{Type: "agent_start"})

	select {
	case ev := <-got:
		if ev.SessionID != "sess-42" {
			t.Errorf("expected session_id sess-42, got %q", ev.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDebugBus_ForwardsFromSessionBus(t *testing.T) {
	d := NewDebugBus()
	b := New("s1", d, nil)

	got := make(chan Event, 1)
	d.Subscribe("observer", func(ev Event) { got <- ev })

	b.Broadcast(Event{Type: "agent_start"})

	select {
	case ev := <-got:
		if ev.Type != "agent_start" {
			t.Errorf("expected agent_start, got %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debug bus forward")
	}
}
