package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
)

func newTestGateway(t *testing.T, opts gateway.Options) *gateway.Gateway {
	t.Helper()
	if opts.AgentID == "" {
		opts.AgentID = "agent-1"
	}
	g, err := gateway.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Initialize(map[string]any{"temp": 0.5}, []aibom.Model{{Name: "Llama3", Version: "1.0", Hash: "h123"}}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestExecuteActions(t *testing.T) {
	g := newTestGateway(t, gateway.Options{Breaker: breaker.Config{FailureThreshold: 3}})
	in := strings.NewReader(`
# breaker scenario
{"kind":"shell_exec","attributes":{"command":"rm -rf /"}}
{"kind":"shell_exec","attributes":{"command":"ls"}}

{"kind":"shell_exec","attributes":{"command":"pwd"}}
{"kind":"file_read","attributes":{"path":"docs/readme.md"},"cost":5}
`)
	var out bytes.Buffer

	sum, err := executeActions(g, in, &out)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Allowed != 0 || sum.Denied != 4 {
		t.Errorf("unexpected summary %+v", sum)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 records, got %d", len(lines))
	}
	var last model.DecisionRecord
	if err := json.Unmarshal([]byte(lines[3]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Reason != gateway.ReasonBreakerOpen || last.BreakerState != "OPEN" {
		t.Errorf("expected breaker denial, got %+v", last)
	}
}

func TestExecuteActionsMalformedLine(t *testing.T) {
	g := newTestGateway(t, gateway.Options{})
	in := strings.NewReader("{\"kind\":\"file_read\",\"attributes\":{\"path\":\"a\"}}\nnot json\n")

	sum, err := executeActions(g, in, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
	if sum.Allowed != 1 {
		t.Errorf("first action should have run, got %+v", sum)
	}
}

func TestExecuteActionsInvalidAction(t *testing.T) {
	g := newTestGateway(t, gateway.Options{})
	_, err := executeActions(g, strings.NewReader(`{"kind":"file_read","cost":-1}`), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected invalid action error")
	}
}

func TestKeygenAndReportVerify(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing.pem")

	keygenOut = keyPath
	keygenForce = false
	defer func() { keygenOut = "" }()
	if err := runKeygen(nil, nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if err := runKeygen(nil, nil); err == nil {
		t.Error("second keygen without --force should fail")
	}

	priv, err := aibom.LoadPrivateKey(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	g := newTestGateway(t, gateway.Options{SigningKey: priv})

	ctx := context.Background()
	reportPath := filepath.Join(dir, "report.json")
	dst, err := aibom.OpenDestination(ctx, reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Shutdown(ctx, dst); err != nil {
		t.Fatal(err)
	}

	if err := runReportValidate(nil, []string{reportPath}); err != nil {
		t.Errorf("validate: %v", err)
	}

	reportKey = keyPath + ".pub"
	defer func() { reportKey = "" }()
	if err := verifyReport([]string{reportPath}); err != nil {
		t.Errorf("verify with public key: %v", err)
	}

	data, _ := os.ReadFile(reportPath)
	tampered := strings.Replace(string(data), "Llama3", "Llama4", 1)
	if err := os.WriteFile(reportPath, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}
	if err := verifyReport([]string{reportPath}); err == nil {
		t.Error("verify must fail for a tampered report")
	}
}

func TestReportValidateRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"agent_id": 5}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runReportValidate(nil, []string{path}); err == nil {
		t.Error("expected schema validation error")
	}
}

func TestDoctorChecks(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	initMode = "user"
	initInstallSystemd = false
	initForce = false
	if err := runInit(nil, nil); err != nil {
		t.Fatal(err)
	}

	checks := doctorChecks(filepath.Join(home, ".trustplane", "config.yaml"))
	byLabel := map[string]checkResult{}
	for _, c := range checks {
		byLabel[c.label] = c
	}
	for _, label := range []string{"config", "policy", "signing key", "ledger destination"} {
		c, ok := byLabel[label]
		if !ok {
			t.Errorf("missing check %q", label)
			continue
		}
		if !c.ok {
			t.Errorf("check %q failed: %s", label, c.detail)
		}
	}
}

func TestDoctorReportsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("breaker:\n  failure_threshold: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	checks := doctorChecks(path)
	last := checks[len(checks)-1]
	if last.label != "config" || last.ok {
		t.Errorf("expected failing config check, got %+v", last)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "debug", "json"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := newLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestPrintStatus(t *testing.T) {
	g := newTestGateway(t, gateway.Options{Budget: 100})
	if _, err := g.Execute(model.Action{Kind: model.KindShellExec, Attributes: map[string]any{"command": "ls"}, Cost: 30}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	printStatus(&out, g.Status())
	for _, want := range []string{
		"Agent:      agent-1",
		"Breaker:    CLOSED (1/",
		"last: ",
		"Budget:     30 / 100 tokens (70 remaining)",
		"Decisions:  1 (0 allowed, 1 denied)",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in output:\n%s", want, out.String())
		}
	}
}
