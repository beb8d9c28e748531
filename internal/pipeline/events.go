package pipeline

import (
	"sync"
	"time"
)

// EventType enumerates progress events emitted during a run.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventStageDegraded  EventType = "stage_degraded"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventRunCancelled   EventType = "run_cancelled"
)

// Event is one entry in a run's progress stream. The transport for the
// stream is external; subscribers receive events over a channel and the full
// history stays queryable through Status.
type Event struct {
	Type      EventType `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// eventLog accumulates events for one run and fans them out to subscribers.
type eventLog struct {
	mu     sync.RWMutex
	events []Event
	subs   []chan Event
	closed bool
}

func newEventLog() *eventLog {
	return &eventLog{}
}

// emit appends an event and notifies subscribers. Sends never block: a slow
// subscriber misses events rather than stalling the pipeline.
func (l *eventLog) emit(ev Event) {
	ev.Timestamp = time.Now()

	l.mu.Lock()
	l.events = append(l.events, ev)
	subs := make([]chan Event, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe registers a buffered channel receiving future events. After the
// log is closed it returns a channel carrying the replayed history, already
// closed, so ranging over it always terminates.
func (l *eventLog) subscribe() <-chan Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		ch := make(chan Event, len(l.events))
		for _, ev := range l.events {
			ch <- ev
		}
		close(ch)
		return ch
	}

	ch := make(chan Event, 64)
	l.subs = append(l.subs, ch)
	return ch
}

// snapshot returns a copy of the event history.
func (l *eventLog) snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// close closes all subscriber channels and marks the log finished.
func (l *eventLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, ch := range l.subs {
		close(ch)
	}
	l.subs = nil
}
