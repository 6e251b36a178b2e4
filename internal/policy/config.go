package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustplane/internal/model"
)

// StringList decodes from either a YAML scalar or a sequence of scalars.
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// PredicateSpec is the declarative form of a predicate.
// All populated fields must hold (logical AND). An empty spec matches everything.
type PredicateSpec struct {
	Kind      StringList      `yaml:"kind,omitempty"`
	Attribute string          `yaml:"attribute,omitempty"`
	Match     StringList      `yaml:"match,omitempty"`
	NotSuffix StringList      `yaml:"not_suffix,omitempty"`
	Expr      string          `yaml:"expr,omitempty"`
	All       []PredicateSpec `yaml:"all,omitempty"`
	Any       []PredicateSpec `yaml:"any,omitempty"`
	Not       *PredicateSpec  `yaml:"not,omitempty"`
}

// RuleSpec is the declarative form of a rule.
type RuleSpec struct {
	Name        string        `yaml:"name"`
	Effect      string        `yaml:"effect"`
	Description string        `yaml:"description,omitempty"`
	When        PredicateSpec `yaml:"when"`
}

// Config holds the policy rule set in evaluation order.
type Config struct {
	Rules []RuleSpec `yaml:"rules"`
}

// DefaultConfig returns the built-in rule set: sensitive files, restricted
// network destinations, and shell execution are denied.
func DefaultConfig() *Config {
	return &Config{
		Rules: []RuleSpec{
			{
				Name:        "NoSensitiveFiles",
				Effect:      "deny",
				Description: "reads of system and secret files",
				When: PredicateSpec{
					Kind:      StringList{string(model.KindFileRead)},
					Attribute: "path",
					Match:     StringList{"*/etc/*", "*config.json*", "*.env*"},
				},
			},
			{
				Name:        "RestrictedNetwork",
				Effect:      "deny",
				Description: "requests to destinations outside the allow-listed suffixes",
				When: PredicateSpec{
					Kind:      StringList{string(model.KindNetworkRequest)},
					Attribute: "destination",
					NotSuffix: StringList{".gov"},
				},
			},
			{
				Name:        "NoShellExecution",
				Effect:      "deny",
				Description: "all shell execution",
				When: PredicateSpec{
					Kind: StringList{string(model.KindShellExec)},
				},
			},
		},
	}
}

// DefaultRules builds the default rule set.
func DefaultRules() []Rule {
	rules, err := DefaultConfig().Build()
	if err != nil {
		panic(fmt.Sprintf("policy: default config does not build: %v", err))
	}
	return rules
}

// Build compiles the declarative config into rules.
func (c *Config) Build() ([]Rule, error) {
	rules := make([]Rule, 0, len(c.Rules))
	seen := make(map[string]bool, len(c.Rules))
	for i, spec := range c.Rules {
		if spec.Name == "" {
			return nil, fmt.Errorf("rule %d: %w: missing name", i, ErrInvalidRule)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("rule %d: %w: %s", i, ErrDuplicateRuleName, spec.Name)
		}
		seen[spec.Name] = true

		pred, err := spec.When.Build()
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", spec.Name, err)
		}
		effect, err := parseEffect(spec.Effect)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", spec.Name, err)
		}
		rules = append(rules, Rule{
			Name:        spec.Name,
			Description: spec.Description,
			Predicate:   pred,
			Effect:      effect,
		})
	}
	return rules, nil
}

// Build compiles s into a Predicate.
func (s PredicateSpec) Build() (Predicate, error) {
	var parts []Predicate

	if len(s.Kind) > 0 {
		kinds := make([]model.Kind, len(s.Kind))
		for i, k := range s.Kind {
			kinds[i] = model.Kind(k)
		}
		parts = append(parts, KindIs{Kinds: kinds})
	}

	if (len(s.Match) > 0 || len(s.NotSuffix) > 0) && s.Attribute == "" {
		return nil, fmt.Errorf("%w: match and not_suffix require attribute", ErrInvalidRule)
	}
	if len(s.Match) > 0 {
		parts = append(parts, AttrMatch{Attr: s.Attribute, Patterns: s.Match})
	}
	if len(s.NotSuffix) > 0 {
		parts = append(parts, AttrSuffixNotIn{Attr: s.Attribute, Suffixes: s.NotSuffix})
	}

	if s.Expr != "" {
		e, err := NewExpr(s.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		parts = append(parts, e)
	}

	if len(s.All) > 0 {
		all := make(AllOf, 0, len(s.All))
		for _, sub := range s.All {
			p, err := sub.Build()
			if err != nil {
				return nil, err
			}
			all = append(all, p)
		}
		parts = append(parts, all)
	}

	if len(s.Any) > 0 {
		anyOf := make(AnyOf, 0, len(s.Any))
		for _, sub := range s.Any {
			p, err := sub.Build()
			if err != nil {
				return nil, err
			}
			anyOf = append(anyOf, p)
		}
		parts = append(parts, anyOf)
	}

	if s.Not != nil {
		p, err := s.Not.Build()
		if err != nil {
			return nil, err
		}
		parts = append(parts, Not{P: p})
	}

	switch len(parts) {
	case 0:
		return Always{}, nil
	case 1:
		return parts[0], nil
	default:
		return AllOf(parts), nil
	}
}

// parseEffect is strict: a typo in a policy file must not silently flip a rule.
func parseEffect(s string) (model.Effect, error) {
	switch s {
	case "deny", "DENY", "":
		return model.EffectDeny, nil
	case "allow", "ALLOW":
		return model.EffectAllow, nil
	default:
		return "", fmt.Errorf("%w: unknown effect %q", ErrInvalidRule, s)
	}
}

// ParseConfig decodes a policy YAML document. An empty document yields
// the default config.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if cfg.Rules == nil {
		return DefaultConfig(), nil
	}
	return cfg, nil
}

// DefaultPath returns ~/.trustplane/policy.yaml, or "" when there is no
// home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trustplane", "policy.yaml")
}

// LoadConfig loads the policy from a YAML file.
// Empty path falls back to ~/.trustplane/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the policy and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), emptyHash(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

// LoadRules loads and builds the rule set in one step.
func LoadRules(path string) ([]Rule, string, error) {
	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		return nil, "", err
	}
	rules, err := cfg.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build policy rules: %w", err)
	}
	return rules, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# trustplane policy configuration
# Generated by: trustplane init-policy
#
# Rules are evaluated in order. The first matching rule with effect "deny"
# rejects the action. Rules with effect "allow" are recorded but never
# override a later deny. Actions no deny rule matches are allowed, including
# action kinds no rule mentions: add a catch-all at the end if you want
# default-deny.
#
# Predicate fields (all populated fields must hold):
#   kind:       action kind or list of kinds
#   attribute:  attribute name used by match / not_suffix
#   match:      patterns (*x* contains, *x suffix, x* prefix, exact)
#   not_suffix: matches when the attribute ends with none of these
#   expr:       CEL expression over action.kind, action.cost, action.attributes
#   all / any / not: nested predicates
rules:
  - name: NoSensitiveFiles
    effect: deny
    description: reads of system and secret files
    when:
      kind: file_read
      attribute: path
      match: ["*/etc/*", "*config.json*", "*.env*"]

  - name: RestrictedNetwork
    effect: deny
    description: requests to destinations outside the allow-listed suffixes
    when:
      kind: network_request
      attribute: destination
      not_suffix: [".gov"]

  - name: NoShellExecution
    effect: deny
    description: all shell execution
    when:
      kind: shell_exec

  # Catch-all for kinds not covered above (uncomment for default-deny):
  # - name: DefaultDeny
  #   effect: deny
  #   when:
  #     not:
  #       kind: [file_read, network_request, shell_exec]
`
}
