package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/trustplane/internal/model"
)

// Predicate is the match capability of a rule.
// Implementations must be pure: no I/O, no mutation of the action.
type Predicate interface {
	Matches(a model.Action) bool
	String() string
}

// Always matches every action. Used as a catch-all.
type Always struct{}

func (Always) Matches(model.Action) bool { return true }
func (Always) String() string            { return "always" }

// KindIs matches actions whose kind is one of Kinds.
type KindIs struct {
	Kinds []model.Kind
}

func (p KindIs) Matches(a model.Action) bool {
	for _, k := range p.Kinds {
		if strings.EqualFold(string(k), string(a.Kind)) {
			return true
		}
	}
	return false
}

func (p KindIs) String() string {
	parts := make([]string, len(p.Kinds))
	for i, k := range p.Kinds {
		parts[i] = string(k)
	}
	return fmt.Sprintf("kind in [%s]", strings.Join(parts, ", "))
}

// AttrMatch matches when the attribute value matches any of Patterns.
// Pattern syntax: *x* for contains, *x for suffix, x* for prefix, exact otherwise.
// Matching is case-insensitive.
type AttrMatch struct {
	Attr     string
	Patterns []string
}

func (p AttrMatch) Matches(a model.Action) bool {
	value := a.Attr(p.Attr)
	for _, pattern := range p.Patterns {
		if matchPattern(pattern, value) {
			return true
		}
	}
	return false
}

func (p AttrMatch) String() string {
	return fmt.Sprintf("%s matches [%s]", p.Attr, strings.Join(p.Patterns, ", "))
}

// AttrSuffixNotIn matches when the attribute value ends with none of Suffixes.
// A missing attribute matches: an empty destination is not allow-listed.
type AttrSuffixNotIn struct {
	Attr     string
	Suffixes []string
}

func (p AttrSuffixNotIn) Matches(a model.Action) bool {
	value := strings.ToLower(a.Attr(p.Attr))
	for _, s := range p.Suffixes {
		if strings.HasSuffix(value, strings.ToLower(s)) {
			return false
		}
	}
	return true
}

func (p AttrSuffixNotIn) String() string {
	return fmt.Sprintf("%s not ending in [%s]", p.Attr, strings.Join(p.Suffixes, ", "))
}

// AllOf matches when every member matches. An empty AllOf matches.
type AllOf []Predicate

func (p AllOf) Matches(a model.Action) bool {
	for _, m := range p {
		if !m.Matches(a) {
			return false
		}
	}
	return true
}

func (p AllOf) String() string {
	return joinPredicates(p, " and ")
}

// AnyOf matches when at least one member matches. An empty AnyOf never matches.
type AnyOf []Predicate

func (p AnyOf) Matches(a model.Action) bool {
	for _, m := range p {
		if m.Matches(a) {
			return true
		}
	}
	return false
}

func (p AnyOf) String() string {
	return joinPredicates(p, " or ")
}

// Not inverts a predicate.
type Not struct {
	P Predicate
}

func (p Not) Matches(a model.Action) bool { return !p.P.Matches(a) }
func (p Not) String() string              { return "not (" + p.P.String() + ")" }

func joinPredicates(ps []Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, m := range ps {
		parts[i] = "(" + m.String() + ")"
	}
	return strings.Join(parts, sep)
}

// matchPattern checks a value against a glob-like pattern.
func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	// *x*: contains
	if len(lowerPattern) > 1 && strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	// *.ext: suffix
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}

	// /prefix/*: prefix
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}

	return lowerValue == lowerPattern
}
