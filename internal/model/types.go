package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidAction is returned when an action cannot be admitted for evaluation.
var ErrInvalidAction = errors.New("invalid action")

// Kind identifies the class of operation an agent attempts.
// The set is open: unknown kinds are accepted and simply match no rule.
type Kind string

const (
	KindFileRead       Kind = "file_read"
	KindFileWrite      Kind = "file_write"
	KindNetworkRequest Kind = "network_request"
	KindShellExec      Kind = "shell_exec"
)

// Effect is what a policy rule does when its predicate matches.
type Effect string

const (
	EffectDeny  Effect = "deny"
	EffectAllow Effect = "allow"
)

// Outcome is the gateway decision for one action.
type Outcome string

const (
	Allowed Outcome = "allowed"
	Denied  Outcome = "denied"
)

// Action represents one operation an agent asks the gateway to admit.
type Action struct {
	Kind       Kind           `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Cost       int64          `json:"cost"`
}

// Validate checks the action invariants.
func (a Action) Validate() error {
	if a.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidAction)
	}
	if a.Cost < 0 {
		return fmt.Errorf("%w: negative cost %d", ErrInvalidAction, a.Cost)
	}
	return nil
}

// Clone returns a copy whose attribute map is not shared with the caller.
func (a Action) Clone() Action {
	c := Action{Kind: a.Kind, Cost: a.Cost}
	if a.Attributes != nil {
		c.Attributes = make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Attr returns the attribute value as a string, or "" when absent.
func (a Action) Attr(key string) string {
	v, ok := a.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// ActionFromMap creates an Action from a raw map.
// The kind is read from "kind" (or "type"), the cost from "cost" (or "tokens").
// Every other key becomes an attribute unless an "attributes" map is present.
// A cost that is not an integer in int64 range fails with ErrInvalidAction.
func ActionFromMap(m map[string]any) (Action, error) {
	a := Action{Attributes: map[string]any{}}
	if m == nil {
		return a, nil
	}

	if k, ok := m["kind"].(string); ok {
		a.Kind = Kind(k)
	} else if k, ok := m["type"].(string); ok {
		a.Kind = Kind(k)
	}

	costKey := "cost"
	if _, ok := m[costKey]; !ok {
		costKey = "tokens"
	}
	if v, ok := m[costKey]; ok {
		cost, err := parseCost(v)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %s: %w", ErrInvalidAction, costKey, err)
		}
		a.Cost = cost
	}

	if attrs, ok := m["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			a.Attributes[k] = v
		}
		return a, nil
	}

	for k, v := range m {
		switch k {
		case "kind", "type", "cost", "tokens":
			continue
		}
		a.Attributes[k] = v
	}
	return a, nil
}

// ToMap converts the action to a map for serialization.
func (a Action) ToMap() map[string]any {
	attrs := make(map[string]any, len(a.Attributes))
	for k, v := range a.Attributes {
		attrs[k] = v
	}
	return map[string]any{
		"kind":       string(a.Kind),
		"cost":       a.Cost,
		"attributes": attrs,
	}
}

// parseCost accepts integers, integral floats within int64 range (JSON and
// protobuf numbers arrive as float64) and decimal strings. Null counts as 0.
func parseCost(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintCost(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintCost(n)
	case float32:
		return floatCost(float64(n))
	case float64:
		return floatCost(n)
	case json.Number:
		return stringCost(string(n))
	case string:
		return stringCost(n)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func uintCost(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%d out of range", u)
	}
	return int64(u), nil
}

func floatCost(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is itself out of range.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v out of range", f)
	}
	return int64(f), nil
}

func stringCost(s string) (int64, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return i, nil
}

// DecisionRecord is one entry in the gateway's append-only decision trail.
type DecisionRecord struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Action          Action    `json:"action"`
	Outcome         Outcome   `json:"outcome"`
	Reason          string    `json:"reason"`
	Rule            string    `json:"rule,omitempty"`
	BreakerState    string    `json:"breaker_state"`
	CumulativeUsage int64     `json:"cumulative_usage"`
	Timestamp       time.Time `json:"timestamp"`
}

// Allowed reports whether the record admitted the action.
func (r DecisionRecord) Allowed() bool {
	return r.Outcome == Allowed
}
