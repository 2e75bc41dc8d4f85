package event

import (
	"context"
	"sync"
	"time"
)

// Log is an ordered, append-only event buffer. The producer appends without
// blocking; consumers read from any offset and can wait for new entries.
// This is the per-job push queue: the orchestrator never feels backpressure
// from a slow stream reader.
type Log struct {
	mu         sync.Mutex
	events     []Event
	lastAppend time.Time
	closed     bool
	waiters    []chan struct{}
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{lastAppend: time.Now().UTC()}
}

// Append adds an event to the log and wakes any waiting readers.
// Appending to a closed log is a no-op.
func (l *Log) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events = append(l.events, e)
	if e.Type != Heartbeat {
		l.lastAppend = e.Timestamp
	}
	l.wake()
}

// Events returns a copy of all events appended so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// SinceLastEvent reports how long ago the last non-heartbeat event was appended.
func (l *Log) SinceLastEvent() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastAppend)
}

// Closed reports whether the log has been closed.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close marks the log complete and wakes all readers. Further appends are dropped.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.wake()
}

// WaitAfter blocks until the log holds more than n events or is closed.
// It returns the events after offset n and whether the log is still open.
// A cancelled context returns whatever is available.
func (l *Log) WaitAfter(ctx context.Context, n int) ([]Event, bool) {
	for {
		l.mu.Lock()
		if len(l.events) > n || l.closed {
			out := make([]Event, len(l.events)-n)
			copy(out, l.events[n:])
			open := !l.closed
			l.mu.Unlock()
			return out, open
		}
		ch := make(chan struct{})
		l.waiters = append(l.waiters, ch)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, true
		case <-ch:
		}
	}
}

// wake must be called with l.mu held.
func (l *Log) wake() {
	for _, ch := range l.waiters {
		close(ch)
	}
	l.waiters = nil
}
