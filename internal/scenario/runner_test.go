package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/policy"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// missingPolicy points LoadAndRun at a path that does not exist so the
// built-in rules are used regardless of the user's home directory.
func missingPolicy(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.yaml")
}

func TestAllCasesPass(t *testing.T) {
	s := &Scenario{
		Name: "basic allow",
		Cases: []Case{
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "/data/report.csv"}}, Expect: "allow"},
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "/etc/passwd"}}, Expect: "deny", Rule: "NoSensitiveFiles"},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %d: %+v", result.Failed, result.Cases)
	}
	if result.Passed != 2 {
		t.Errorf("expected 2 passed, got %d", result.Passed)
	}
	if result.Mode != ModePolicy {
		t.Errorf("expected default mode policy, got %q", result.Mode)
	}
}

func TestFailedAssertionDetected(t *testing.T) {
	s := &Scenario{
		Name: "wrong expectation",
		Cases: []Case{
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "/data/report.csv"}}, Expect: "deny"},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 || result.Passed != 0 {
		t.Errorf("expected 1 failure, got passed=%d failed=%d", result.Passed, result.Failed)
	}
}

func TestRuleMismatchFails(t *testing.T) {
	s := &Scenario{
		Name: "wrong rule",
		Cases: []Case{
			{Action: ScenarioAction{Kind: "shell_exec", Attributes: map[string]any{"command": "ls"}}, Expect: "denied", Rule: "RestrictedNetwork"},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 {
		t.Errorf("rule mismatch must fail the case")
	}
	if result.Cases[0].Rule != "NoShellExecution" {
		t.Errorf("expected actual rule NoShellExecution, got %q", result.Cases[0].Rule)
	}
}

func TestPolicyModeInvalidAction(t *testing.T) {
	s := &Scenario{
		Name:  "invalid",
		Cases: []Case{{Action: ScenarioAction{Kind: "file_read", Cost: -1}, Expect: "allowed"}},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Cases[0].Actual != "error" || result.Passed != 0 {
		t.Errorf("expected error outcome, got %+v", result.Cases[0])
	}
}

func TestGatewayModeBreakerSequence(t *testing.T) {
	s := &Scenario{
		Name:    "breaker trips",
		Mode:    ModeGateway,
		Breaker: breaker.Config{FailureThreshold: 3, ResetTimeout: time.Minute},
		Cases: []Case{
			{Action: ScenarioAction{Kind: "shell_exec", Attributes: map[string]any{"command": "rm -rf /"}}, Expect: "denied"},
			{Action: ScenarioAction{Kind: "shell_exec", Attributes: map[string]any{"command": "ls"}}, Expect: "denied"},
			{Action: ScenarioAction{Kind: "shell_exec", Attributes: map[string]any{"command": "pwd"}}, Expect: "denied"},
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "docs/readme.md"}}, Expect: "denied", Reason: gateway.ReasonBreakerOpen},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected all cases to pass, got %+v", result.Cases)
	}
}

func TestGatewayModeQuota(t *testing.T) {
	s := &Scenario{
		Name:   "quota",
		Mode:   ModeGateway,
		Budget: 100,
		Cases: []Case{
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "a"}, Cost: 60}, Expect: "allowed"},
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "b"}, Cost: 50}, Expect: "denied", Reason: gateway.ReasonQuotaExceeded},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected all cases to pass, got %+v", result.Cases)
	}
}

func TestPolicyModeIgnoresBudget(t *testing.T) {
	s := &Scenario{
		Name:   "policy only",
		Budget: 10,
		Cases: []Case{
			{Action: ScenarioAction{Kind: "file_read", Attributes: map[string]any{"path": "a"}, Cost: 60}, Expect: "allowed"},
		},
	}

	result, err := Run(s, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Errorf("policy mode must not apply the budget: %+v", result.Cases)
	}
}

func TestUnknownMode(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Mode: "replay"}, policy.DefaultRules())
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoadAndRunFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "test.yaml", `
name: "file test"
mode: gateway
breaker:
  failure_threshold: 2
  reset_timeout: 30s
cases:
  - action: {kind: network_request, attributes: {destination: api.example.com}}
    expect: deny
    rule: RestrictedNetwork
  - action: {kind: network_request, attributes: {destination: data.census.gov}}
    expect: allow
`)

	result, err := LoadAndRun(path, missingPolicy(t))
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %+v", result.Cases)
	}
	if result.File != path {
		t.Errorf("expected file %s, got %s", path, result.File)
	}
	if result.Cases[1].Target != "data.census.gov" {
		t.Errorf("expected target from destination, got %q", result.Cases[1].Target)
	}
}

func TestLoadAndRunCustomPolicy(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeScenario(t, dir, "policy.yaml", `
rules:
  - name: NoWrites
    effect: deny
    when:
      kind: [file_write]
`)
	path := writeScenario(t, dir, "s.yaml", `
name: "custom policy"
cases:
  - action: {kind: file_write, attributes: {path: out.txt}}
    expect: denied
    rule: NoWrites
  - action: {kind: shell_exec, attributes: {command: ls}}
    expect: allowed
`)

	result, err := LoadAndRun(path, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %+v", result.Cases)
	}
}

func TestInvalidScenarioYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "bad.yaml", "name: [unterminated")

	if _, err := LoadAndRun(path, missingPolicy(t)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMissingScenarioFile(t *testing.T) {
	if _, err := LoadAndRun(filepath.Join(t.TempDir(), "nope.yaml"), missingPolicy(t)); err == nil {
		t.Fatal("expected read error")
	}
}

func TestEmptyCasesList(t *testing.T) {
	result, err := Run(&Scenario{Name: "empty"}, policy.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 0 || result.Passed != 0 || result.Failed != 0 {
		t.Errorf("expected zero counts, got %+v", result)
	}
}

func TestFormatText(t *testing.T) {
	pass := &RunResult{Name: "ok", Mode: ModePolicy, Total: 1, Passed: 1}
	fail := &RunResult{Name: "bad", Mode: ModeGateway, Total: 2, Passed: 1, Failed: 1, Cases: []CaseResult{
		{Index: 1, Passed: true, Kind: "file_read"},
		{Index: 2, Kind: "shell_exec", Target: "ls", Expected: "allowed", Actual: "denied", Reason: "policy violation: NoShellExecution"},
	}}

	out := FormatText([]*RunResult{pass, fail})
	for _, want := range []string{
		"Checking 2 scenario files...",
		"PASS  ok [policy] (1/1)",
		"FAIL  bad [gateway] (1/2)",
		"FAIL  case 2: shell_exec",
		"2 of 3 cases passed. 1 of 2 scenarios failed.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON([]*RunResult{{Name: "ok", Mode: ModePolicy, Total: 1, Passed: 1}})
	if err != nil {
		t.Fatal(err)
	}
	var decoded []RunResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Name != "ok" {
		t.Errorf("unexpected decode %+v", decoded)
	}
}
