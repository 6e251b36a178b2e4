// Package events carries the structured decision-event stream from the
// gateway to log collectors, the audit log, metrics and brokers.
package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/model"
)

// Event types.
const (
	TypeDecision      = "decision"
	TypeBreaker       = "breaker_transition"
	TypeReinitialize  = "reinitialize"
	TypeShutdown      = "shutdown"
	TypeUsageReset    = "usage_reset"
	TypeRulesReplaced = "rules_replaced"
	TypeTamper        = "binary_tamper"
)

// Event is one observability record. Decision events carry the action and
// its outcome; lifecycle events use Details.
type Event struct {
	Time            time.Time         `json:"time"`
	Component       string            `json:"component"`
	Type            string            `json:"type"`
	AgentID         string            `json:"agent_id"`
	RecordID        string            `json:"record_id,omitempty"`
	Kind            string            `json:"kind,omitempty"`
	Attributes      map[string]any    `json:"attributes,omitempty"`
	Cost            int64             `json:"cost,omitempty"`
	Outcome         string            `json:"outcome,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Rule            string            `json:"rule,omitempty"`
	BreakerState    string            `json:"breaker_state,omitempty"`
	CumulativeUsage int64             `json:"cumulative_usage,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
}

// Sink receives events. Emit must not block on I/O; wrap slow sinks in Async.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans out to every sink in order.
type Multi []Sink

// Emit delivers e to each sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory. For tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// SlogSink writes events as structured log lines. Denials log at WARN.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink scopes logger to the events component.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger.With("component", "events")}
}

// Emit logs e.
func (s *SlogSink) Emit(e Event) {
	attrs := []any{
		"type", e.Type,
		"source", e.Component,
		"agent_id", e.AgentID,
	}
	if e.Type == TypeDecision {
		attrs = append(attrs,
			"record_id", e.RecordID,
			"kind", e.Kind,
			"outcome", e.Outcome,
			"reason", e.Reason,
			"breaker_state", e.BreakerState,
			"cumulative_usage", e.CumulativeUsage,
		)
	}
	for k, v := range e.Details {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	if e.Outcome == string(model.Denied) || e.Type == TypeBreaker {
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, "event", attrs...)
}
