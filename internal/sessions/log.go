package sessions

import "sync"

// Log is an ordered, append-only conversation history. Invariant 1 (spec
// §3): it never deletes except via a single compaction swap, and every
// reader either sees the pre-swap or the post-swap sequence — enforced
// here by copying the messages under the read lock, so a caller ranging
// over a snapshot never holds the lock.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog creates an empty Message Log.
func NewLog() *Log {
	return &Log{}
}

// Append adds one message to the end of the log.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
}

// AppendBatch adds several messages atomically (as one log mutation).
func (l *Log) AppendBatch(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	l.mu.Lock()
	l.messages = append(l.messages, msgs...)
	l.mu.Unlock()
}

// Snapshot returns an immutable copy of the current message sequence.
// Grounded on goclaw's sessions.Manager.GetHistory, which also returns a
// defensive copy rather than the live backing slice.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the current message count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// CompactionSwap atomically replaces the entire log with newMessages. It
// is the only operation in the system permitted to drop messages, per
// Invariant 1. Callers compute newMessages (summary prefix + kept tail)
// before calling this; the swap itself is O(1) under the lock.
func (l *Log) CompactionSwap(newMessages []Message) {
	l.mu.Lock()
	l.messages = newMessages
	l.mu.Unlock()
}

// Last returns the last message and true, or the zero Message and false
// if the log is empty.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// ToolResultCallIDs returns the set of call_ids with a matching ToolResult
// anywhere in the log — used to validate Invariant 2 in tests.
func (l *Log) ToolResultCallIDs() map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]bool)
	for _, m := range l.messages {
		if m.Kind == KindToolResult {
			out[m.CallID] = true
		}
	}
	return out
}
