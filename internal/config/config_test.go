package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/drift"
	"github.com/ppiankov/trustplane/internal/gateway"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.ID != "default" {
		t.Errorf("expected default agent, got %q", cfg.Agent.ID)
	}
	if cfg.Breaker.FailureThreshold != breaker.DefaultFailureThreshold {
		t.Errorf("expected default threshold, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Drift.Budget != drift.DefaultBudget {
		t.Errorf("expected default budget, got %d", cfg.Drift.Budget)
	}
	if cfg.Server.Listen != "127.0.0.1:9443" {
		t.Errorf("unexpected listen address %q", cfg.Server.Listen)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  id: from-env\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.ID != "from-env" {
		t.Errorf("expected agent from $%s, got %q", EnvConfigPath, cfg.Agent.ID)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  id: agent-7
breaker:
  failure_threshold: 5
  reset_timeout: 2m
events:
  kafka:
    brokers: [localhost:9092]
    topic: decisions
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.ID != "agent-7" || cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Breaker.ResetTimeout != 2*time.Minute {
		t.Errorf("expected 2m reset timeout, got %v", cfg.Breaker.ResetTimeout)
	}
	if cfg.Drift.Budget != drift.DefaultBudget {
		t.Errorf("unset fields must keep defaults, got budget %d", cfg.Drift.Budget)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unset shutdown timeout must keep default, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("agent: [broken")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"negative threshold": "breaker:\n  failure_threshold: -1\n",
		"negative budget":    "drift:\n  budget: -5\n",
		"negative buffer":    "events:\n  buffer_size: -1\n",
		"kafka no topic":     "events:\n  kafka:\n    brokers: [localhost:9092]\n",
		"model no name":      "models:\n  - version: \"1\"\n",
		"alert no url":       "events:\n  alerts:\n    - format: slack\n",
		"redact bad regex":   "events:\n  redact:\n    patterns:\n      - name: x\n        regex: \"(\"\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(yml)); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestParseExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Parse([]byte("policy: ~/p.yaml\nevents:\n  audit_log: ~/audit.jsonl\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PolicyPath != filepath.Join(home, "p.yaml") {
		t.Errorf("policy path not expanded: %q", cfg.PolicyPath)
	}
	if cfg.Events.AuditLog != filepath.Join(home, "audit.jsonl") {
		t.Errorf("audit log not expanded: %q", cfg.Events.AuditLog)
	}
}

func TestDestinationPlaceholder(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Destination = "s3://bucket/aibom/{agent}.json"
	if got := cfg.Destination("agent-1"); got != "s3://bucket/aibom/agent-1.json" {
		t.Errorf("unexpected destination %q", got)
	}
}

func TestDefaultYAMLParses(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Parse([]byte(DefaultYAML()))
	if err != nil {
		t.Fatalf("generated config must parse: %v", err)
	}
	if cfg.Agent.ID != "my-agent" || len(cfg.Models) != 1 || len(cfg.Tools) != 1 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !strings.HasSuffix(cfg.Destination("x"), filepath.Join("aibom", "x.json")) {
		t.Errorf("unexpected destination %q", cfg.Destination("x"))
	}
}

func TestInitializerDeclaresComponents(t *testing.T) {
	cfg, err := Parse([]byte(`
configuration:
  temperature: 0.5
models:
  - {name: Llama3, version: "1.0", hash: h123}
tools:
  - {name: shell, description: runner, access_level: restricted}
datasets:
  - {name: docs, version: "2", source: s3://corp/docs, hash: abc}
`))
	if err != nil {
		t.Fatal(err)
	}

	g, err := gateway.New(gateway.Options{AgentID: "agent-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Initializer()(g); err != nil {
		t.Fatal(err)
	}

	r := g.Report()
	if len(r.Components.Models) != 1 || r.Components.Models[0].Hash != "h123" {
		t.Errorf("unexpected models %+v", r.Components.Models)
	}
	if len(r.Components.Tools) != 1 || r.Components.Tools[0].AccessLevel != "restricted" {
		t.Errorf("unexpected tools %+v", r.Components.Tools)
	}
	if len(r.Components.Datasets) != 1 || r.Components.Datasets[0].Source != "s3://corp/docs" {
		t.Errorf("unexpected datasets %+v", r.Components.Datasets)
	}
	if len(r.Integrity.ConfigHash) != 64 {
		t.Errorf("expected sealed config hash, got %q", r.Integrity.ConfigHash)
	}
	if g.State() != gateway.StateReady {
		t.Errorf("expected ready gateway, got %v", g.State())
	}
}
