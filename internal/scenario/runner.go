package scenario

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
)

// Run evaluates all cases in a scenario against rules.
func Run(s *Scenario, rules []policy.Rule) (*RunResult, error) {
	mode := s.Mode
	if mode == "" {
		mode = ModePolicy
	}
	result := &RunResult{
		Name:  s.Name,
		Mode:  mode,
		Total: len(s.Cases),
	}

	quiet := slog.New(slog.DiscardHandler)

	var evaluate func(model.Action) (outcome, reason, rule string)
	switch mode {
	case ModePolicy:
		engine, err := policy.NewEngine(quiet, rules...)
		if err != nil {
			return nil, err
		}
		evaluate = func(a model.Action) (string, string, string) {
			if err := a.Validate(); err != nil {
				return "error", err.Error(), ""
			}
			d := engine.Evaluate(a)
			return string(d.Outcome), d.Reason, d.Rule
		}
	case ModeGateway:
		g, err := gateway.New(gateway.Options{
			AgentID: "scenario",
			Breaker: s.Breaker,
			Budget:  s.Budget,
			Rules:   append([]policy.Rule{}, rules...),
			Logger:  quiet,
		})
		if err != nil {
			return nil, err
		}
		if err := g.Initialize(map[string]any{"scenario": s.Name}, nil); err != nil {
			return nil, err
		}
		evaluate = func(a model.Action) (string, string, string) {
			rec, err := g.Execute(a)
			if err != nil {
				return "error", err.Error(), ""
			}
			return string(rec.Outcome), rec.Reason, rec.Rule
		}
	default:
		return nil, fmt.Errorf("unknown scenario mode %q", s.Mode)
	}

	for i, c := range s.Cases {
		action := model.Action{
			Kind:       model.Kind(c.Action.Kind),
			Attributes: c.Action.Attributes,
			Cost:       c.Action.Cost,
		}
		actual, reason, rule := evaluate(action)
		expected := normalizeOutcome(c.Expect)

		cr := CaseResult{
			Index:    i + 1,
			Kind:     c.Action.Kind,
			Target:   target(action),
			Expected: expected,
			Actual:   actual,
			Reason:   reason,
			Rule:     rule,
		}

		cr.Passed = actual == expected &&
			(c.Rule == "" || c.Rule == rule) &&
			(c.Reason == "" || c.Reason == reason)
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result, nil
}

func normalizeOutcome(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "allowed":
		return string(model.Allowed)
	case "deny", "denied":
		return string(model.Denied)
	default:
		return strings.ToLower(s)
	}
}

// target picks the attribute that best identifies what the action touches.
func target(a model.Action) string {
	for _, k := range []string{"path", "destination", "url", "command"} {
		if v := a.Attr(k); v != "" {
			return v
		}
	}
	return ""
}

// LoadAndRun loads a scenario YAML file and the policy, then runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	rules, _, err := policy.LoadRules(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	result, err := Run(&s, rules)
	if err != nil {
		return nil, fmt.Errorf("run scenario %s: %w", path, err)
	}
	result.File = path

	return result, nil
}
