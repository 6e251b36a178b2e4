package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/trustplane/internal/model"
)

var (
	// ErrDuplicateRuleName is returned when a rule name is already registered.
	ErrDuplicateRuleName = errors.New("duplicate rule name")
	// ErrInvalidRule is returned for rules without a name or predicate.
	ErrInvalidRule = errors.New("invalid rule")
)

// Rule is a named predicate with an effect.
type Rule struct {
	Name        string
	Description string
	Predicate   Predicate
	Effect      model.Effect
}

// Decision is the outcome of evaluating one action against the rule set.
type Decision struct {
	Outcome model.Outcome `json:"outcome"`
	Rule    string        `json:"rule,omitempty"`
	Reason  string        `json:"reason"`
}

// Denied reports whether a deny rule matched.
func (d Decision) Denied() bool {
	return d.Outcome == model.Denied
}

// Engine evaluates actions against an ordered rule set.
//
// The rule slice is copy-on-write: Register and Replace publish a new slice,
// so an evaluation always sees one complete version of the rule set.
type Engine struct {
	mu      sync.RWMutex
	rules   []Rule
	version uint64
	logger  *slog.Logger
}

// NewEngine creates an engine and registers rules in order.
func NewEngine(logger *slog.Logger, rules ...Rule) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger.With("component", "policy")}
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register appends a rule. Fails with ErrDuplicateRuleName if the name exists.
func (e *Engine) Register(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.Name == rule.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateRuleName, rule.Name)
		}
	}

	next := make([]Rule, len(e.rules), len(e.rules)+1)
	copy(next, e.rules)
	e.rules = append(next, rule)
	e.version++

	e.logger.Debug("policy added", "rule", rule.Name, "effect", string(rule.Effect), "predicate", rule.Predicate.String())
	return nil
}

// Replace swaps the whole rule set. The new set is validated first;
// on error the current set is left untouched.
func (e *Engine) Replace(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateRuleName, r.Name)
		}
		seen[r.Name] = true
	}

	next := make([]Rule, len(rules))
	copy(next, rules)

	e.mu.Lock()
	e.rules = next
	e.version++
	v := e.version
	e.mu.Unlock()

	e.logger.Info("policy rule set replaced", "rules", len(next), "version", v)
	return nil
}

// Evaluate returns Denied for the first matching deny rule in registration
// order, Allowed otherwise. Allow rules never short-circuit the scan.
func (e *Engine) Evaluate(action model.Action) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if r.Effect != model.EffectDeny {
			continue
		}
		if r.Predicate.Matches(action) {
			return Decision{Outcome: model.Denied, Rule: r.Name, Reason: r.Name}
		}
	}
	return Decision{Outcome: model.Allowed, Reason: "no deny rule matched"}
}

// Rules returns a snapshot of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Version increments on every Register or Replace.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	}
	if r.Predicate == nil {
		return fmt.Errorf("%w: rule %s has no predicate", ErrInvalidRule, r.Name)
	}
	if r.Effect != model.EffectDeny && r.Effect != model.EffectAllow {
		return fmt.Errorf("%w: rule %s has unknown effect %q", ErrInvalidRule, r.Name, r.Effect)
	}
	return nil
}
