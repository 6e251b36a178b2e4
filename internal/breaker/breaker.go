// Package breaker implements the three-state failure gate in front of the
// action path.
//
// The OPEN→HALF_OPEN transition is lazy: it happens inside CanExecute when
// the reset timeout has elapsed. There are no timers or goroutines.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

const (
	DefaultFailureThreshold = 3
	DefaultResetTimeout     = 60 * time.Second
)

// Config holds breaker parameters. Zero values take the defaults.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// Snapshot is a consistent view of the breaker fields.
type Snapshot struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureTime     time.Time     `json:"last_failure_time"`
	LastFailureReason   string        `json:"last_failure_reason,omitempty"`
	FailureThreshold    int           `json:"failure_threshold"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
}

// Transition describes a state change, delivered to the OnTransition hook.
type Transition struct {
	From     State
	To       State
	Failures int
	Reason   string
	At       time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now. For tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// OnTransition registers a hook called after every state change.
// The hook runs with the breaker lock released.
func OnTransition(fn func(Transition)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	lastReason   string
	threshold    int
	resetTimeout time.Duration

	now          func() time.Time
	logger       *slog.Logger
	onTransition func(Transition)
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.FailureThreshold < 0 {
		return nil, fmt.Errorf("failure threshold must be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout < 0 {
		return nil, fmt.Errorf("reset timeout must be positive, got %s", cfg.ResetTimeout)
	}

	b := &Breaker{
		state:        Closed,
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "breaker")
	return b, nil
}

// CanExecute reports whether an action may be evaluated. When OPEN and the
// reset timeout has elapsed since the last failure, it moves to HALF_OPEN and
// admits one probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	var tr *Transition
	allowed := true
	if b.state == Open {
		if b.now().Sub(b.lastFailure) > b.resetTimeout {
			tr = b.setState(HalfOpen, "reset timeout elapsed")
			b.logger.Info("breaker half-open, probing for recovery", "failures", b.failures)
		} else {
			allowed = false
		}
	}
	b.mu.Unlock()

	b.notify(tr)
	return allowed
}

// RecordFailure counts a failure. Reaching the threshold while CLOSED, or any
// failure while HALF_OPEN, opens the breaker.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.now()
	b.lastReason = reason

	b.logger.Warn("failure recorded", "reason", reason, "failures", b.failures, "threshold", b.threshold)

	var tr *Transition
	switch b.state {
	case HalfOpen:
		tr = b.setState(Open, reason)
		b.logger.Error("breaker reopened after failed probe", "reason", reason, "reset_timeout", b.resetTimeout)
	case Closed:
		if b.failures >= b.threshold {
			tr = b.setState(Open, reason)
			b.logger.Error("breaker opened: agent execution halted", "reason", reason, "failures", b.failures, "reset_timeout", b.resetTimeout)
		}
	}
	b.mu.Unlock()

	b.notify(tr)
}

// RecordSuccess closes the breaker and forgives every prior failure.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var tr *Transition
	b.failures = 0
	if b.state != Closed {
		tr = b.setState(Closed, "success")
		b.logger.Info("breaker closed")
	}
	b.mu.Unlock()

	b.notify(tr)
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns all fields under one lock.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureTime:     b.lastFailure,
		LastFailureReason:   b.lastReason,
		FailureThreshold:    b.threshold,
		ResetTimeout:        b.resetTimeout,
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, reason string) *Transition {
	from := b.state
	b.state = to
	return &Transition{From: from, To: to, Failures: b.failures, Reason: reason, At: b.now()}
}

func (b *Breaker) notify(tr *Transition) {
	if tr != nil && b.onTransition != nil {
		b.onTransition(*tr)
	}
}
