package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Config controls redaction of exported events.
type Config struct {
	Enabled  bool         `yaml:"enabled"`
	Keys     []string     `yaml:"keys"`     // masked in addition to DefaultKeys
	Patterns []PatternDef `yaml:"patterns"` // scanned in addition to DefaultPatterns
}

// PatternDef defines a custom pattern from config.
type PatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Compile validates the config and returns a Redactor.
func (c Config) Compile() (*Redactor, error) {
	patterns := append([]Pattern{}, DefaultPatterns...)
	for i, def := range c.Patterns {
		if def.Name == "" {
			return nil, fmt.Errorf("redact.patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("redact.patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("redact.patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		patterns = append(patterns, Pattern{Type: PatternType(strings.ToUpper(def.Name)), Regex: re})
	}

	return &Redactor{
		keys:     keySet(append(append([]string{}, DefaultKeys...), c.Keys...)),
		patterns: patterns,
	}, nil
}
