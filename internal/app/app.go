// Package app assembles a gateway registry and its event sinks from the
// configuration file. The serve, run and mcp commands share it.
package app

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/alert"
	"github.com/ppiankov/trustplane/internal/audit"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/events"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/store"
	"github.com/ppiankov/trustplane/internal/telemetry"
)

// App owns the registry and every sink behind it.
type App struct {
	Config   *config.Config
	Registry *gateway.Registry
	Store    *store.DecisionStore

	logger    *slog.Logger
	async     *events.Async
	telemetry *telemetry.Provider

	mu         sync.RWMutex
	policyHash string

	closeMu     sync.Mutex
	closed      bool
	releaseOnce sync.Once
	releaseErr  error
}

// Option adjusts assembly. For tests.
type Option func(*options)

type options struct {
	extra []events.Sink
}

// WithSink adds a synchronous sink in front of the async chain.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.extra = append(o.extra, s) }
}

// New builds the event pipeline and a registry configured from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, logger: logger.With("component", "app")}

	rules, hash, err := policy.LoadRules(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	a.policyHash = hash

	var key ed25519.PrivateKey
	if cfg.Ledger.SigningKey != "" {
		key, err = aibom.LoadPrivateKey(cfg.Ledger.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
	}

	var slow events.Multi
	cleanup := func() { _ = slow.Close() }

	if cfg.Events.Log {
		slow = append(slow, events.NewSlogSink(logger))
	}
	if cfg.Events.AuditLog != "" {
		log, err := audit.Open(cfg.Events.AuditLog)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		slow = append(slow, log)
	}
	if cfg.Events.SQLite != "" {
		st, err := store.Open(cfg.Events.SQLite)
		if err != nil {
			cleanup()
			return nil, err
		}
		a.Store = st
		slow = append(slow, st)
	}

	// Kafka and webhooks leave the host; optionally mask secrets first.
	export := func(s events.Sink) events.Sink { return s }
	if cfg.Events.Redact.Enabled {
		r, err := cfg.Events.Redact.Compile()
		if err != nil {
			cleanup()
			return nil, err
		}
		export = r.Sink
	}
	if len(cfg.Events.Kafka.Brokers) > 0 {
		slow = append(slow, export(events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, logger)))
	}
	if d := alert.NewDispatcher(cfg.Events.Alerts, logger); d != nil {
		slow = append(slow, export(d))
	}

	tcfg := cfg.Events.Telemetry
	tcfg.ServiceVersion = cfg.Agent.Version
	a.telemetry, err = telemetry.New(ctx, tcfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	metrics, err := telemetry.NewMetricsSink(a.telemetry.Meter())
	if err != nil {
		cleanup()
		_ = a.telemetry.Shutdown(ctx)
		return nil, err
	}

	sink := events.Multi{metrics}
	sink = append(sink, o.extra...)
	if len(slow) > 0 {
		a.async = events.NewAsync(slow, cfg.Events.BufferSize, logger)
		sink = append(sink, a.async)
	}

	a.Registry = gateway.NewRegistry(gateway.Options{
		Version:    cfg.Agent.Version,
		Breaker:    cfg.Breaker,
		Budget:     cfg.Drift.Budget,
		Rules:      rules,
		Sink:       sink,
		Logger:     logger,
		SigningKey: key,
	}, cfg.Initializer())

	a.logger.Info("gateway stack ready",
		"policy", cfg.PolicyPath,
		"policy_hash", hash,
		"rules", len(rules),
		"sinks", len(slow),
		"signed", key != nil,
	)
	return a, nil
}

// Gateway returns the gateway for agentID, or the configured agent when empty.
func (a *App) Gateway(agentID string) (*gateway.Gateway, error) {
	if agentID == "" {
		agentID = a.Config.Agent.ID
	}
	return a.Registry.Get(agentID)
}

// Destination resolves the report destination for agentID.
func (a *App) Destination(ctx context.Context, agentID string) (aibom.Destination, error) {
	return aibom.OpenDestination(ctx, a.Config.Destination(agentID))
}

// PolicyHash is the hash of the policy file currently installed.
func (a *App) PolicyHash() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policyHash
}

// ReloadPolicy re-reads the policy file and swaps rules on every gateway.
// On error the previous rule set stays in place.
func (a *App) ReloadPolicy() error {
	rules, hash, err := policy.LoadRules(a.Config.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	if err := a.Registry.ReplaceRules(rules); err != nil {
		return fmt.Errorf("failed to install policy: %w", err)
	}
	a.mu.Lock()
	a.policyHash = hash
	a.mu.Unlock()
	a.logger.Info("policy reloaded", "policy_hash", hash, "rules", len(rules))
	return nil
}

// Dropped reports events lost to a full queue.
func (a *App) Dropped() int64 {
	if a.async == nil {
		return 0
	}
	return a.async.Dropped()
}

// Close shuts down every gateway, persisting its report, then drains and
// closes the sinks. When a report cannot be persisted the sinks stay open and
// Close may be called again; gateways already persisted are skipped.
func (a *App) Close(ctx context.Context) error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}
	if err := a.Registry.Shutdown(ctx, a.Destination); err != nil {
		return err
	}
	a.closed = true
	return a.Release(ctx)
}

// Release drains and closes the sinks without persisting anything. Callers
// giving up after a failed Close use it to flush the audit trail.
func (a *App) Release(ctx context.Context) error {
	a.releaseOnce.Do(func() {
		var errs []error
		if a.async != nil {
			if err := a.async.Close(); err != nil {
				errs = append(errs, err)
			}
			if n := a.async.Dropped(); n > 0 {
				a.logger.Warn("events dropped", "count", n)
			}
		}
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.releaseErr = errors.Join(errs...)
	})
	return a.releaseErr
}
