// Package gateway mediates every action an agent attempts. Each action
// passes the circuit breaker, the drift monitor and the policy engine in
// that order, and every outcome becomes a decision record.
package gateway

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/drift"
	"github.com/ppiankov/trustplane/internal/events"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
)

var (
	// ErrGatewayClosed is returned for any action submitted after shutdown began.
	ErrGatewayClosed = errors.New("gateway closed")
	// ErrNotInitialized is returned by Execute before Initialize.
	ErrNotInitialized = errors.New("gateway not initialized")
)

// Decision reasons.
const (
	ReasonBreakerOpen   = "breaker open"
	ReasonQuotaExceeded = "resource quota exceeded"
	ReasonPolicyPrefix  = "policy violation: "
)

// Lifecycle is the gateway's administrative state.
type Lifecycle string

const (
	StateNew     Lifecycle = "new"
	StateReady   Lifecycle = "ready"
	StateClosing Lifecycle = "closing"
	StateClosed  Lifecycle = "closed"
)

// Options configures a Gateway.
type Options struct {
	AgentID string
	Version string
	Breaker breaker.Config
	Budget  int64
	// Rules is the policy rule set. Nil installs policy.DefaultRules;
	// an empty non-nil slice installs no rules.
	Rules      []policy.Rule
	Sink       events.Sink
	Logger     *slog.Logger
	SigningKey ed25519.PrivateKey
	Clock      func() time.Time
	NewID      func() string
}

// Gateway is the admission-control point for one agent instance.
type Gateway struct {
	mu      sync.Mutex
	state   Lifecycle
	records []model.DecisionRecord

	shutdownMu sync.Mutex

	agentID string
	version string
	breaker *breaker.Breaker
	drift   *drift.Monitor
	engine  *policy.Engine
	ledger  *aibom.Ledger
	sink    events.Sink
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New builds a gateway and its components.
func New(opts Options) (*Gateway, error) {
	if opts.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Rules == nil {
		opts.Rules = policy.DefaultRules()
	}

	logger := opts.Logger.With("agent_id", opts.AgentID)
	g := &Gateway{
		state:   StateNew,
		agentID: opts.AgentID,
		version: opts.Version,
		sink:    opts.Sink,
		logger:  logger.With("component", "gateway"),
		now:     opts.Clock,
		newID:   opts.NewID,
	}

	br, err := breaker.New(opts.Breaker,
		breaker.WithClock(opts.Clock),
		breaker.WithLogger(logger),
		breaker.OnTransition(g.onBreakerTransition),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid breaker config: %w", err)
	}
	g.breaker = br

	g.drift, err = drift.New(drift.Config{Budget: opts.Budget}, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid drift config: %w", err)
	}

	g.engine, err = policy.NewEngine(logger, opts.Rules...)
	if err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}

	ledgerOpts := []aibom.Option{aibom.WithClock(opts.Clock), aibom.WithLogger(logger)}
	if opts.SigningKey != nil {
		ledgerOpts = append(ledgerOpts, aibom.WithSigningKey(opts.SigningKey))
	}
	g.ledger = aibom.NewLedger(opts.AgentID, opts.Version, ledgerOpts...)

	return g, nil
}

// AgentID returns the agent identity bound at construction.
func (g *Gateway) AgentID() string { return g.agentID }

// Ledger exposes the AIBOM for tool and dataset declarations.
func (g *Gateway) Ledger() *aibom.Ledger { return g.ledger }

// Initialize binds the configuration fingerprint and declares models. A
// second call is an administrative re-initialization: the fingerprint is
// replaced, logged and emitted as a reinitialize event.
func (g *Gateway) Initialize(config map[string]any, models []aibom.Model) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateClosing, StateClosed:
		return ErrGatewayClosed
	case StateNew:
		hash, err := g.ledger.SetConfiguration(config)
		if err != nil {
			return err
		}
		g.declareModels(models)
		g.state = StateReady
		g.logger.Info("gateway initialized", "config_hash", hash, "models", len(models))
		return nil
	}

	prev, next, err := g.ledger.Reconfigure(config)
	if err != nil {
		return err
	}
	g.declareModels(models)
	g.logger.Warn("gateway re-initialized", "previous_hash", prev, "config_hash", next, "models", len(models))
	g.emit(events.Event{
		Type: events.TypeReinitialize,
		Details: map[string]string{
			"previous_hash": prev,
			"config_hash":   next,
		},
	})
	return nil
}

func (g *Gateway) declareModels(models []aibom.Model) {
	for _, m := range models {
		g.ledger.DeclareModel(m.Name, m.Version, m.Hash)
	}
}

// Execute admits or rejects one action. Breaker, quota and policy
// rejections are DENIED records, not errors. Errors are reserved for
// invalid actions, use before Initialize and use after shutdown.
func (g *Gateway) Execute(action model.Action) (model.DecisionRecord, error) {
	if err := action.Validate(); err != nil {
		return model.DecisionRecord{}, err
	}
	action = action.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateClosing, StateClosed:
		return model.DecisionRecord{}, ErrGatewayClosed
	case StateNew:
		return model.DecisionRecord{}, ErrNotInitialized
	}

	rec := model.DecisionRecord{
		ID:        g.newID(),
		AgentID:   g.agentID,
		Action:    action,
		Timestamp: g.now().UTC(),
	}

	switch {
	case !g.breaker.CanExecute():
		rec.Outcome = model.Denied
		rec.Reason = ReasonBreakerOpen
		rec.CumulativeUsage = g.drift.Usage()

	default:
		usage := g.drift.Track(action.Cost)
		rec.CumulativeUsage = usage.Current
		if usage.Exceeded {
			g.breaker.RecordFailure(ReasonQuotaExceeded)
			rec.Outcome = model.Denied
			rec.Reason = ReasonQuotaExceeded
			break
		}

		d := g.engine.Evaluate(action)
		if d.Denied() {
			reason := ReasonPolicyPrefix + d.Rule
			g.breaker.RecordFailure(reason)
			rec.Outcome = model.Denied
			rec.Reason = reason
			rec.Rule = d.Rule
			break
		}

		g.breaker.RecordSuccess()
		rec.Outcome = model.Allowed
		rec.Reason = d.Reason
	}

	rec.BreakerState = string(g.breaker.State())
	g.records = append(g.records, rec)
	g.emit(events.FromRecord(rec))

	if rec.Outcome == model.Denied {
		g.logger.Warn("action denied", "record_id", rec.ID, "kind", string(action.Kind), "reason", rec.Reason, "breaker_state", rec.BreakerState)
	} else {
		g.logger.Debug("action allowed", "record_id", rec.ID, "kind", string(action.Kind), "cumulative_usage", rec.CumulativeUsage)
	}
	return rec, nil
}

// ExecuteAction is Execute reduced to the admission verdict.
func (g *Gateway) ExecuteAction(action model.Action) (bool, error) {
	rec, err := g.Execute(action)
	if err != nil {
		return false, err
	}
	return rec.Allowed(), nil
}

// Check evaluates the policy only. No breaker, quota or record side effects.
func (g *Gateway) Check(action model.Action) policy.Decision {
	return g.engine.Evaluate(action)
}

// Records returns a copy of the decision log.
func (g *Gateway) Records() []model.DecisionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.DecisionRecord, len(g.records))
	copy(out, g.records)
	return out
}

// Report renders the AIBOM snapshot.
func (g *Gateway) Report() aibom.Report {
	return g.ledger.Report()
}

// Status is a point-in-time view of the gateway.
type Status struct {
	AgentID      string           `json:"agent_id"`
	Version      string           `json:"version"`
	State        Lifecycle        `json:"state"`
	Breaker      breaker.Snapshot `json:"breaker"`
	Usage        int64            `json:"usage"`
	Budget       int64            `json:"budget"`
	Remaining    int64            `json:"remaining"`
	Decisions    int              `json:"decisions"`
	Allowed      int              `json:"allowed"`
	Denied       int              `json:"denied"`
	Rules        int              `json:"rules"`
	RulesVersion uint64           `json:"rules_version"`
	ConfigHash   string           `json:"config_hash,omitempty"`
}

// Status returns the current status.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Status{
		AgentID:      g.agentID,
		Version:      g.version,
		State:        g.state,
		Breaker:      g.breaker.Snapshot(),
		Usage:        g.drift.Usage(),
		Budget:       g.drift.Budget(),
		Remaining:    g.drift.Remaining(),
		Decisions:    len(g.records),
		Rules:        len(g.engine.Rules()),
		RulesVersion: g.engine.Version(),
		ConfigHash:   g.ledger.ConfigHash(),
	}
	for _, r := range g.records {
		if r.Allowed() {
			s.Allowed++
		} else {
			s.Denied++
		}
	}
	return s
}

// ReplaceRules swaps the policy rule set atomically.
func (g *Gateway) ReplaceRules(rules []policy.Rule) error {
	if err := g.engine.Replace(rules); err != nil {
		return err
	}
	g.emit(events.Event{
		Type:    events.TypeRulesReplaced,
		Details: map[string]string{"rules": fmt.Sprint(len(rules)), "version": fmt.Sprint(g.engine.Version())},
	})
	return nil
}

// ResetUsage zeroes the drift monitor. Administrative.
func (g *Gateway) ResetUsage() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.drift.Reset()
	g.emit(events.Event{
		Type:    events.TypeUsageReset,
		Details: map[string]string{"previous_usage": fmt.Sprint(prev)},
	})
	return prev
}

// State returns the lifecycle state.
func (g *Gateway) State() Lifecycle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Shutdown stops accepting actions, persists the ledger to dst and marks the
// gateway closed. If persisting fails the gateway stays closing and Shutdown
// may be retried. A gateway that was never initialized closes without
// writing a report.
func (g *Gateway) Shutdown(ctx context.Context, dst aibom.Destination) error {
	g.shutdownMu.Lock()
	defer g.shutdownMu.Unlock()

	g.mu.Lock()
	prevState := g.state
	switch prevState {
	case StateClosed:
		g.mu.Unlock()
		return ErrGatewayClosed
	case StateNew:
		g.state = StateClosed
		g.mu.Unlock()
		g.logger.Warn("gateway closed before initialization, no ledger persisted")
		g.emit(events.Event{Type: events.TypeShutdown, Details: map[string]string{"persisted": "false"}})
		return nil
	}
	g.state = StateClosing
	g.mu.Unlock()

	if err := g.ledger.Persist(ctx, dst); err != nil {
		g.logger.Error("ledger persistence failed, gateway left closing", "destination", dst.String(), "error", err)
		return err
	}

	g.mu.Lock()
	g.state = StateClosed
	g.mu.Unlock()

	g.logger.Info("gateway shut down", "destination", dst.String())
	g.emit(events.Event{
		Type:    events.TypeShutdown,
		Details: map[string]string{"persisted": "true", "destination": dst.String()},
	})
	return nil
}

func (g *Gateway) onBreakerTransition(tr breaker.Transition) {
	g.emit(events.Event{
		Time:         tr.At,
		Type:         events.TypeBreaker,
		Component:    "breaker",
		BreakerState: string(tr.To),
		Reason:       tr.Reason,
		Details: map[string]string{
			"from":     string(tr.From),
			"failures": fmt.Sprint(tr.Failures),
		},
	})
}

func (g *Gateway) emit(e events.Event) {
	if e.Time.IsZero() {
		e.Time = g.now().UTC()
	}
	if e.Component == "" {
		e.Component = "gateway"
	}
	e.AgentID = g.agentID
	g.sink.Emit(e)
}
