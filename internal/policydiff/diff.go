// Package policydiff compares two policy rule sets.
package policydiff

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustplane/internal/policy"
)

// Change represents a field change on one rule.
type Change struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition or removal.
type RuleChange struct {
	Type   string `json:"type"` // "added", "removed"
	Rule   string `json:"rule"`
	Effect string `json:"effect"`
}

// DiffResult holds the comparison of two policy configs.
type DiffResult struct {
	OldPath      string       `json:"old_path"`
	NewPath      string       `json:"new_path"`
	OldHash      string       `json:"old_hash,omitempty"`
	NewHash      string       `json:"new_hash,omitempty"`
	Changes      []Change     `json:"changes"`
	RuleChanges  []RuleChange `json:"rule_changes"`
	OrderChanged bool         `json:"order_changed"`
	HasChanges   bool         `json:"has_changes"`
}

// Diff compares two configs rule by rule, keyed by rule name.
func Diff(old, new *policy.Config) *DiffResult {
	r := &DiffResult{}

	oldMap := make(map[string]policy.RuleSpec, len(old.Rules))
	for _, rule := range old.Rules {
		oldMap[rule.Name] = rule
	}
	newMap := make(map[string]policy.RuleSpec, len(new.Rules))
	for _, rule := range new.Rules {
		newMap[rule.Name] = rule
	}

	for _, rule := range new.Rules {
		oldRule, exists := oldMap[rule.Name]
		if !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{Type: "added", Rule: rule.Name, Effect: effect(rule)})
			continue
		}
		diffRule(r, oldRule, rule)
	}
	for _, rule := range old.Rules {
		if _, exists := newMap[rule.Name]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{Type: "removed", Rule: rule.Name, Effect: effect(rule)})
		}
	}

	// First matching deny wins, so reordering shared rules can change the
	// reported rule even when no rule changed.
	r.OrderChanged = !slices.Equal(common(old.Rules, newMap), common(new.Rules, oldMap))

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0 || r.OrderChanged
	return r
}

func diffRule(r *DiffResult, old, new policy.RuleSpec) {
	if effect(old) != effect(new) {
		r.Changes = append(r.Changes, Change{
			Rule:    new.Name,
			Field:   "effect",
			Old:     effect(old),
			New:     effect(new),
			Comment: effectComment(effect(old), effect(new)),
		})
	}
	if oldWhen, newWhen := predicate(old.When), predicate(new.When); oldWhen != newWhen {
		r.Changes = append(r.Changes, Change{
			Rule:  new.Name,
			Field: "when",
			Old:   oldWhen,
			New:   newWhen,
		})
	}
	if old.Description != new.Description {
		r.Changes = append(r.Changes, Change{
			Rule:  new.Name,
			Field: "description",
			Old:   old.Description,
			New:   new.Description,
		})
	}
}

func effect(r policy.RuleSpec) string {
	return strings.ToLower(strings.TrimSpace(r.Effect))
}

func effectComment(old, new string) string {
	switch {
	case new == "deny":
		return "stricter"
	case old == "deny":
		return "looser"
	}
	return ""
}

// predicate renders a spec as single-line flow YAML for comparison.
func predicate(p policy.PredicateSpec) string {
	var node yaml.Node
	if err := node.Encode(p); err != nil {
		return fmt.Sprintf("%+v", p)
	}
	setFlow(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Sprintf("%+v", p)
	}
	return strings.TrimSpace(string(out))
}

func setFlow(n *yaml.Node) {
	n.Style |= yaml.FlowStyle
	for _, c := range n.Content {
		setFlow(c)
	}
}

// common returns the names in rules that also appear in other, in order.
func common(rules []policy.RuleSpec, other map[string]policy.RuleSpec) []string {
	var out []string
	for _, rule := range rules {
		if _, ok := other[rule.Name]; ok {
			out = append(out, rule.Name)
		}
	}
	return out
}
