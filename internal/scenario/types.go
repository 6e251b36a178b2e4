package scenario

import "github.com/ppiankov/trustplane/internal/breaker"

// Modes.
const (
	// ModePolicy evaluates each case independently against the rule set.
	ModePolicy = "policy"
	// ModeGateway runs the cases in order through one fresh gateway, so
	// breaker and budget state carry from case to case.
	ModeGateway = "gateway"
)

// ScenarioAction defines the action under test.
type ScenarioAction struct {
	Kind       string         `yaml:"kind"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
	Cost       int64          `yaml:"cost,omitempty"`
}

// Case is one test case within a scenario.
type Case struct {
	Action ScenarioAction `yaml:"action"`
	Expect string         `yaml:"expect"`           // allowed | denied (allow/deny accepted)
	Rule   string         `yaml:"rule,omitempty"`   // optional: matching rule name
	Reason string         `yaml:"reason,omitempty"` // optional: exact decision reason
}

// Scenario is a named collection of test cases.
type Scenario struct {
	Name    string         `yaml:"name"`
	Mode    string         `yaml:"mode,omitempty"`
	Breaker breaker.Config `yaml:"breaker,omitempty"`
	Budget  int64          `yaml:"budget,omitempty"`
	Cases   []Case         `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason"`
	Rule     string `json:"rule,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Mode   string       `json:"mode"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
