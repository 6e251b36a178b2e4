package trustplane

import (
	"log/slog"
	"time"

	"github.com/ppiankov/trustplane/internal/aibom"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	agentID       string
	version       string
	policyPath    string
	budget        int64
	threshold     int
	resetTimeout  time.Duration
	configuration map[string]any
	models        []aibom.Model
	ledger        string
	remote        string
	logger        *slog.Logger
}

// WithAgent sets the agent ID (default "sdk").
func WithAgent(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithVersion sets the agent version recorded in the AIBOM.
func WithVersion(v string) Option {
	return func(c *clientConfig) { c.version = v }
}

// WithPolicy loads rules from a policy YAML file instead of the built-in set.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithBudget sets the lifetime token budget.
func WithBudget(tokens int64) Option {
	return func(c *clientConfig) { c.budget = tokens }
}

// WithBreaker sets the consecutive-denial threshold and the open period.
func WithBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(c *clientConfig) {
		c.threshold = threshold
		c.resetTimeout = resetTimeout
	}
}

// WithConfiguration sets the agent configuration sealed into the AIBOM fingerprint.
func WithConfiguration(cfg map[string]any) Option {
	return func(c *clientConfig) { c.configuration = cfg }
}

// WithModel declares a model in the AIBOM.
func WithModel(name, version, hash string) Option {
	return func(c *clientConfig) {
		c.models = append(c.models, aibom.Model{Name: name, Version: version, Hash: hash})
	}
}

// WithLedger persists the AIBOM to uri (path, s3:// or gs://) on Close.
func WithLedger(uri string) Option {
	return func(c *clientConfig) { c.ledger = uri }
}

// WithRemote sends actions to a trustplane server at addr instead of
// evaluating in-process. Policy, budget and breaker options are then
// owned by the server.
func WithRemote(addr string) Option {
	return func(c *clientConfig) { c.remote = addr }
}

// WithLogger sets the logger for the in-process gateway.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
