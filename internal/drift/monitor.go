// Package drift tracks an agent's cumulative resource consumption against a
// lifetime budget.
package drift

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 2000

// Config defines the lifetime budget. Zero means DefaultBudget.
type Config struct {
	Budget int64 `yaml:"budget" json:"budget"`
}

// CheckResult is the outcome of one TrackUsage call.
type CheckResult struct {
	Exceeded bool
	Current  int64
	Limit    int64
	Reason   string
}

// Monitor accumulates usage. Usage never decreases except through Reset.
type Monitor struct {
	mu     sync.Mutex
	usage  int64
	budget int64
	logger *slog.Logger
}

// New creates a monitor with the given budget.
func New(cfg Config, logger *slog.Logger) (*Monitor, error) {
	if cfg.Budget == 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Budget < 0 {
		return nil, fmt.Errorf("budget must be positive, got %d", cfg.Budget)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{budget: cfg.Budget, logger: logger.With("component", "drift")}, nil
}

// TrackUsage adds cost and reports whether cumulative usage is still within
// budget. The cost is counted even when the budget is exceeded, so once over
// budget every later call returns false, including cost 0.
func (m *Monitor) TrackUsage(cost int64) bool {
	return !m.Track(cost).Exceeded
}

// Track is TrackUsage with details for the caller's decision record.
func (m *Monitor) Track(cost int64) CheckResult {
	if cost < 0 {
		cost = 0
	}

	m.mu.Lock()
	// Saturate so an overrun can never wrap back under budget.
	if cost > math.MaxInt64-m.usage {
		m.usage = math.MaxInt64
	} else {
		m.usage += cost
	}
	usage, budget := m.usage, m.budget
	m.mu.Unlock()

	if usage > budget {
		reason := fmt.Sprintf("quota exceeded: %d > %d", usage, budget)
		m.logger.Error("resource quota exceeded", "usage", usage, "budget", budget, "cost", cost)
		return CheckResult{Exceeded: true, Current: usage, Limit: budget, Reason: reason}
	}
	return CheckResult{Current: usage, Limit: budget}
}

// Usage returns cumulative usage.
func (m *Monitor) Usage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Budget returns the configured budget.
func (m *Monitor) Budget() int64 {
	return m.budget
}

// Remaining returns the budget left, or 0 once exceeded.
func (m *Monitor) Remaining() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usage >= m.budget {
		return 0
	}
	return m.budget - m.usage
}

// Reset zeroes cumulative usage. Administrative: the only way back under
// budget after an overrun.
func (m *Monitor) Reset() int64 {
	m.mu.Lock()
	prev := m.usage
	m.usage = 0
	m.mu.Unlock()

	m.logger.Warn("usage reset", "previous_usage", prev, "budget", m.budget)
	return prev
}
