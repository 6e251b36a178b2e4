package events

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/trustplane/internal/model"
)

// DefaultBufferSize is the queue length used by NewAsync when size <= 0.
const DefaultBufferSize = 1024

// Async delivers events to a slow sink from a single worker goroutine, so
// Emit never blocks the caller. When the queue is full the event is dropped
// and counted.
type Async struct {
	next    Sink
	queue   chan Event
	done    chan struct{}
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker.
func NewAsync(next Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger.With("component", "events"),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		a.next.Emit(e)
	}
}

// Emit enqueues e, dropping it if the queue is full or the sink is closed.
func (a *Async) Emit(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("event queue full, dropping event", "type", e.Type, "record_id", e.RecordID, "dropped_total", n)
	}
}

// Dropped returns the number of events lost to a full queue.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close drains the queue, waits for the worker and closes the wrapped sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromRecord converts a decision record into a decision event.
func FromRecord(r model.DecisionRecord) Event {
	return Event{
		Time:            r.Timestamp,
		Component:       "gateway",
		Type:            TypeDecision,
		AgentID:         r.AgentID,
		RecordID:        r.ID,
		Kind:            string(r.Action.Kind),
		Attributes:      r.Action.Clone().Attributes,
		Cost:            r.Action.Cost,
		Outcome:         string(r.Outcome),
		Reason:          r.Reason,
		Rule:            r.Rule,
		BreakerState:    r.BreakerState,
		CumulativeUsage: r.CumulativeUsage,
	}
}
