package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/policy"
)

// Initializer prepares a freshly created gateway, typically by calling
// Initialize and declaring tools.
type Initializer func(g *Gateway) error

// DestinationFunc resolves where an agent's report is written at shutdown.
type DestinationFunc func(ctx context.Context, agentID string) (aibom.Destination, error)

// Registry holds one gateway per agent, created lazily from a template.
type Registry struct {
	mu       sync.Mutex
	template Options
	init     Initializer
	gateways map[string]*Gateway
	closed   bool
}

// NewRegistry returns an empty registry. template.AgentID is ignored.
func NewRegistry(template Options, init Initializer) *Registry {
	return &Registry{
		template: template,
		init:     init,
		gateways: make(map[string]*Gateway),
	}
}

// Get returns the gateway for agentID, creating and initializing it on first use.
func (r *Registry) Get(agentID string) (*Gateway, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gateways[agentID]; ok {
		return g, nil
	}
	if r.closed {
		return nil, ErrGatewayClosed
	}

	opts := r.template
	opts.AgentID = agentID
	g, err := New(opts)
	if err != nil {
		return nil, err
	}
	if r.init != nil {
		if err := r.init(g); err != nil {
			return nil, fmt.Errorf("initialize agent %s: %w", agentID, err)
		}
	}
	r.gateways[agentID] = g
	return g, nil
}

// Lookup returns an existing gateway without creating one.
func (r *Registry) Lookup(agentID string) (*Gateway, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gateways[agentID]
	return g, ok
}

// Agents lists known agent IDs in sorted order.
func (r *Registry) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReplaceRules installs rules on every gateway and on the template used for
// gateways created later.
func (r *Registry) ReplaceRules(rules []policy.Rule) error {
	if _, err := policy.NewEngine(nil, rules...); err != nil {
		return err
	}

	r.mu.Lock()
	r.template.Rules = append([]policy.Rule{}, rules...)
	gws := make([]*Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		gws = append(gws, g)
	}
	r.mu.Unlock()

	var errs []error
	for _, g := range gws {
		if err := g.ReplaceRules(rules); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", g.AgentID(), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops accepting new agents and shuts down every gateway. Failures
// are joined; gateways that failed stay closing and can be retried.
func (r *Registry) Shutdown(ctx context.Context, dest DestinationFunc) error {
	r.mu.Lock()
	r.closed = true
	gws := make([]*Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		gws = append(gws, g)
	}
	r.mu.Unlock()

	var errs []error
	for _, g := range gws {
		if g.State() == StateClosed {
			continue
		}
		dst, err := dest(ctx, g.AgentID())
		if err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", g.AgentID(), err))
			continue
		}
		if err := g.Shutdown(ctx, dst); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", g.AgentID(), err))
		}
	}
	return errors.Join(errs...)
}
