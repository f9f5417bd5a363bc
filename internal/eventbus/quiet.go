package eventbus

import (
	"sync"
	"time"
)

// Quiet batches events and flushes them once no new event has arrived for
// the quiet period. A period <= 0 flushes every event immediately.
type Quiet struct {
	mu      sync.Mutex
	events  []Event
	timer   *time.Timer
	period  time.Duration
	onFlush func([]Event)
	closed  bool
}

// NewQuiet creates a quiet-period collector.
func NewQuiet(period time.Duration, onFlush func([]Event)) *Quiet {
	return &Quiet{period: period, onFlush: onFlush}
}

// Handle adds an event and restarts the quiet timer. It can be subscribed
// directly as a Handler.
func (q *Quiet) Handle(e Event) {
	if q.period <= 0 {
		q.onFlush([]Event{e})
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.events = append(q.events, e)
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.period, q.flush)
}

func (q *Quiet) flush() {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()

	if len(events) > 0 {
		q.onFlush(events)
	}
}

// Close stops the timer and drops pending events.
func (q *Quiet) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.events = nil
	if q.timer != nil {
		q.timer.Stop()
	}
}
