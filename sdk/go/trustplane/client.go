package trustplane

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/client"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
)

// Client enforces gateway decisions for one agent.
// Thread-safe for concurrent tool calls.
type Client struct {
	cfg     clientConfig
	gateway *gateway.Gateway // in-process
	remote  *client.Client
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{agentID: "sdk", version: "0.0.0"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.remote != "" {
		rc, err := client.New(cfg.remote, cfg.agentID)
		if err != nil {
			return nil, fmt.Errorf("trustplane: %w", err)
		}
		return &Client{cfg: cfg, remote: rc}, nil
	}

	var rules []policy.Rule
	if cfg.policyPath != "" {
		var err error
		rules, _, err = policy.LoadRules(cfg.policyPath)
		if err != nil {
			return nil, fmt.Errorf("trustplane: failed to load policy: %w", err)
		}
	}

	g, err := gateway.New(gateway.Options{
		AgentID: cfg.agentID,
		Version: cfg.version,
		Breaker: breaker.Config{FailureThreshold: cfg.threshold, ResetTimeout: cfg.resetTimeout},
		Budget:  cfg.budget,
		Rules:   rules,
		Logger:  cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("trustplane: %w", err)
	}
	if err := g.Initialize(cfg.configuration, cfg.models); err != nil {
		return nil, fmt.Errorf("trustplane: %w", err)
	}
	return &Client{cfg: cfg, gateway: g}, nil
}

// Execute submits an action for admission and records the decision.
// Denials are returned as a Result, not an error.
func (c *Client) Execute(ctx context.Context, action Action) (Result, error) {
	var (
		rec model.DecisionRecord
		err error
	)
	if c.remote != nil {
		rec, err = c.remote.Execute(ctx, toInternalAction(action))
	} else {
		rec, err = c.gateway.Execute(toInternalAction(action))
	}
	if err != nil {
		return Result{}, err
	}
	return fromRecord(rec), nil
}

// Check evaluates policy for an action without recording it or charging the budget.
func (c *Client) Check(ctx context.Context, action Action) (Result, error) {
	a := toInternalAction(action)
	if err := a.Validate(); err != nil {
		return Result{}, err
	}
	if c.remote != nil {
		d, err := c.remote.Check(ctx, a)
		if err != nil {
			return Result{}, err
		}
		return fromDecision(d), nil
	}
	return fromDecision(c.gateway.Check(a)), nil
}

// Report returns the agent's AIBOM snapshot.
func (c *Client) Report(ctx context.Context) (aibom.Report, error) {
	if c.remote != nil {
		return c.remote.Report(ctx)
	}
	return c.gateway.Report(), nil
}

// Close shuts the in-process gateway down and persists the AIBOM when a
// ledger is configured. Remote clients only close the connection.
func (c *Client) Close(ctx context.Context) error {
	if c.remote != nil {
		return c.remote.Close()
	}
	if c.cfg.ledger == "" {
		return c.gateway.Shutdown(ctx, aibom.Destination{Sink: discard{}, URI: "discard"})
	}
	dst, err := aibom.OpenDestination(ctx, c.cfg.ledger)
	if err != nil {
		return fmt.Errorf("trustplane: %w", err)
	}
	return c.gateway.Shutdown(ctx, dst)
}

// discard drops the report when no ledger is configured.
type discard struct{}

func (discard) Put(context.Context, string, []byte) error { return nil }
