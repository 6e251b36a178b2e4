// Package config loads the trustplane gateway configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/alert"
	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/drift"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/redact"
	"github.com/ppiankov/trustplane/internal/telemetry"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "TRUSTPLANE_CONFIG"

// AgentPlaceholder is replaced with the agent id in ledger destinations.
const AgentPlaceholder = "{agent}"

// Config is the gateway configuration file.
type Config struct {
	Agent         AgentConfig    `yaml:"agent"`
	Breaker       breaker.Config `yaml:"breaker"`
	Drift         drift.Config   `yaml:"drift"`
	PolicyPath    string         `yaml:"policy"`
	Configuration map[string]any `yaml:"configuration"`
	Models        []ModelSpec    `yaml:"models"`
	Tools         []ToolSpec     `yaml:"tools"`
	Datasets      []DatasetSpec  `yaml:"datasets"`
	Ledger        LedgerConfig   `yaml:"ledger"`
	Events        EventsConfig   `yaml:"events"`
	Server        ServerConfig   `yaml:"server"`
}

type AgentConfig struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

type ModelSpec struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Hash    string `yaml:"hash"`
}

type ToolSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	AccessLevel string `yaml:"access_level"`
}

type DatasetSpec struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Source  string `yaml:"source"`
	Hash    string `yaml:"hash"`
}

// LedgerConfig controls where the AIBOM goes at shutdown.
type LedgerConfig struct {
	// Destination is a path, file://, s3:// or gs:// URI. "{agent}" expands
	// to the agent id.
	Destination string `yaml:"destination"`
	SigningKey  string `yaml:"signing_key"`
}

// EventsConfig lists decision-event sinks. Empty fields disable the sink.
type EventsConfig struct {
	Log        bool                `yaml:"log"` // one slog line per event
	AuditLog   string              `yaml:"audit_log"`
	SQLite     string              `yaml:"sqlite"`
	BufferSize int                 `yaml:"buffer_size"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	Alerts     []alert.AlertConfig `yaml:"alerts"`
	Telemetry  telemetry.Config    `yaml:"telemetry"`
	Redact     redact.Config       `yaml:"redact"` // applied to kafka and alerts
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Agent:   AgentConfig{ID: "default", Version: "0.0.0"},
		Breaker: breaker.Config{FailureThreshold: breaker.DefaultFailureThreshold, ResetTimeout: breaker.DefaultResetTimeout},
		Drift:   drift.Config{Budget: drift.DefaultBudget},
		Ledger: LedgerConfig{
			Destination: filepath.Join(defaultDir(), "aibom", AgentPlaceholder+".json"),
		},
		Server: ServerConfig{Listen: "127.0.0.1:9443", ShutdownTimeout: 10 * time.Second},
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustplane"
	}
	return filepath.Join(home, ".trustplane")
}

// DefaultPath returns $TRUSTPLANE_CONFIG or ~/.trustplane/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load reads the config at path, or DefaultPath when path is empty.
// A missing file returns Default. Invalid YAML is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.PolicyPath = ExpandHome(cfg.PolicyPath)
	cfg.Ledger.Destination = ExpandHome(cfg.Ledger.Destination)
	cfg.Ledger.SigningKey = ExpandHome(cfg.Ledger.SigningKey)
	cfg.Events.AuditLog = ExpandHome(cfg.Events.AuditLog)
	cfg.Events.SQLite = ExpandHome(cfg.Events.SQLite)
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker.failure_threshold must not be negative")
	}
	if c.Breaker.ResetTimeout < 0 {
		return fmt.Errorf("breaker.reset_timeout must not be negative")
	}
	if c.Drift.Budget < 0 {
		return fmt.Errorf("drift.budget must not be negative")
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("events.buffer_size must not be negative")
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka.topic is required when brokers are set")
	}
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
	}
	for i, a := range c.Events.Alerts {
		if a.URL == "" {
			return fmt.Errorf("events.alerts[%d]: url is required", i)
		}
	}
	if _, err := c.Events.Redact.Compile(); err != nil {
		return fmt.Errorf("events.%w", err)
	}
	return nil
}

// Destination expands the ledger destination for agentID.
func (c *Config) Destination(agentID string) string {
	return strings.ReplaceAll(c.Ledger.Destination, AgentPlaceholder, agentID)
}

// AIBOMModels converts the declared models.
func (c *Config) AIBOMModels() []aibom.Model {
	out := make([]aibom.Model, len(c.Models))
	for i, m := range c.Models {
		out[i] = aibom.Model{Name: m.Name, Version: m.Version, Hash: m.Hash}
	}
	return out
}

// Initializer seals the configuration and declares every component on a
// new gateway.
func (c *Config) Initializer() gateway.Initializer {
	return func(g *gateway.Gateway) error {
		if err := g.Initialize(c.Configuration, c.AIBOMModels()); err != nil {
			return err
		}
		l := g.Ledger()
		for _, t := range c.Tools {
			l.DeclareTool(t.Name, t.Description, t.AccessLevel)
		}
		for _, d := range c.Datasets {
			l.DeclareDataset(d.Name, d.Version, d.Source, d.Hash)
		}
		return nil
	}
}

// DefaultYAML returns a commented config for `trustplane init`.
func DefaultYAML() string {
	return `# trustplane gateway configuration
# Generated by: trustplane init

agent:
  id: my-agent
  version: 0.1.0

breaker:
  failure_threshold: 3   # consecutive denials before the breaker opens
  reset_timeout: 60s     # OPEN -> HALF_OPEN after this long

drift:
  budget: 2000           # lifetime token budget per agent

# Policy rules, hot-reloaded by 'trustplane serve'.
# Generate with: trustplane init-policy
policy: ~/.trustplane/policy.yaml

# Agent configuration sealed into the AIBOM fingerprint.
configuration:
  temperature: 0.2
  max_tokens: 1024

models:
  - name: Llama3
    version: "1.0"
    hash: ""

tools:
  - name: shell
    description: sandboxed command runner
    access_level: restricted

datasets: []

ledger:
  # Path, file://, s3://bucket/key?region=..., or gs://bucket/object.
  destination: ~/.trustplane/aibom/{agent}.json
  # signing_key: ~/.trustplane/signing.pem

events:
  # log: true
  audit_log: ~/.trustplane/audit.jsonl
  # sqlite: ~/.trustplane/decisions.db
  # kafka:
  #   brokers: [localhost:9092]
  #   topic: trustplane.decisions
  # alerts:
  #   - url: https://hooks.slack.com/services/...
  #     format: slack
  #     events: [denied, breaker_transition]
  #     rate_per_minute: 10
  # telemetry:
  #   enabled: true
  #   otlp_endpoint: localhost:4317
  #   insecure: true
  # redact:             # mask secrets before events leave the host
  #   enabled: true
  #   keys: [session_id]

server:
  listen: 127.0.0.1:9443
  shutdown_timeout: 10s
`
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
