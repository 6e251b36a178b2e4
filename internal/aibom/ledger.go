// Package aibom maintains an agent's bill of materials: the models, tools
// and datasets it declared plus a fingerprint of its configuration.
package aibom

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
)

var (
	// ErrConfigSealed is returned by SetConfiguration once a fingerprint is bound.
	ErrConfigSealed = errors.New("configuration already sealed")

	// ErrPersistence wraps every failure to write the report.
	ErrPersistence = errors.New("ledger persistence failed")

	// ErrUnsafeInteger is returned by Fingerprint for integers that canonical
	// JSON cannot represent exactly.
	ErrUnsafeInteger = errors.New("integer outside the exact double range")
)

// Model is a declared model artifact.
type Model struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Hash    string `json:"hash" yaml:"hash"`
}

// Tool is a declared tool the agent may call.
type Tool struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	AccessLevel string `json:"access_level" yaml:"access_level"`
}

// Dataset is a declared data source.
type Dataset struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Source  string `json:"source" yaml:"source"`
	Hash    string `json:"hash" yaml:"hash"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithSigningKey makes Persist write a detached signature next to the report.
func WithSigningKey(key ed25519.PrivateKey) Option {
	return func(l *Ledger) { l.signingKey = key }
}

// Ledger is an append-only AIBOM for a single agent instance.
type Ledger struct {
	mu          sync.Mutex
	agentID     string
	version     string
	createdAt   time.Time
	models      []Model
	tools       []Tool
	datasets    []Dataset
	fingerprint string

	now        func() time.Time
	logger     *slog.Logger
	signingKey ed25519.PrivateKey
}

// NewLedger creates an empty ledger stamped with the current time.
func NewLedger(agentID, version string, opts ...Option) *Ledger {
	l := &Ledger{
		agentID: agentID,
		version: version,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "aibom", "agent_id", agentID)
	l.createdAt = l.now().UTC()
	return l
}

// DeclareModel appends a model. Duplicates are kept: a repeated name with a
// higher semantic version is logged as a version bump.
func (l *Ledger) DeclareModel(name, version, hash string) {
	l.mu.Lock()
	prev, seen := l.lastModel(name)
	l.models = append(l.models, Model{Name: name, Version: version, Hash: hash})
	l.mu.Unlock()

	if seen {
		l.logVersionChange(prev, version, name)
	}
	l.logger.Info("model declared", "name", name, "version", version)
}

func (l *Ledger) lastModel(name string) (Model, bool) {
	for i := len(l.models) - 1; i >= 0; i-- {
		if l.models[i].Name == name {
			return l.models[i], true
		}
	}
	return Model{}, false
}

func (l *Ledger) logVersionChange(prev Model, version, name string) {
	oldV, err1 := semver.NewVersion(prev.Version)
	newV, err2 := semver.NewVersion(version)
	if err1 != nil || err2 != nil {
		l.logger.Info("model redeclared", "name", name, "previous", prev.Version, "version", version)
		return
	}
	switch {
	case newV.GreaterThan(oldV):
		l.logger.Info("model version bump", "name", name, "from", oldV.String(), "to", newV.String())
	case newV.LessThan(oldV):
		l.logger.Warn("model version downgrade", "name", name, "from", oldV.String(), "to", newV.String())
	default:
		l.logger.Info("model redeclared at same version", "name", name, "version", newV.String())
	}
}

// DeclareTool appends a tool.
func (l *Ledger) DeclareTool(name, description, accessLevel string) {
	l.mu.Lock()
	l.tools = append(l.tools, Tool{Name: name, Description: description, AccessLevel: accessLevel})
	l.mu.Unlock()
	l.logger.Info("tool declared", "name", name, "access_level", accessLevel)
}

// DeclareDataset appends a dataset.
func (l *Ledger) DeclareDataset(name, version, source, hash string) {
	l.mu.Lock()
	l.datasets = append(l.datasets, Dataset{Name: name, Version: version, Source: source, Hash: hash})
	l.mu.Unlock()
	l.logger.Info("dataset declared", "name", name, "version", version)
}

// SetConfiguration binds the configuration fingerprint. It can be called once;
// use Reconfigure to replace a bound fingerprint.
func (l *Ledger) SetConfiguration(config map[string]any) (string, error) {
	fp, err := Fingerprint(config)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fingerprint != "" {
		return "", ErrConfigSealed
	}
	l.fingerprint = fp
	l.logger.Info("configuration sealed", "config_hash", fp)
	return fp, nil
}

// Reconfigure replaces the configuration fingerprint and returns the previous
// and new values.
func (l *Ledger) Reconfigure(config map[string]any) (string, string, error) {
	fp, err := Fingerprint(config)
	if err != nil {
		return "", "", err
	}

	l.mu.Lock()
	prev := l.fingerprint
	l.fingerprint = fp
	l.mu.Unlock()

	l.logger.Warn("configuration replaced", "previous_hash", prev, "config_hash", fp)
	return prev, fp, nil
}

// ConfigHash returns the bound fingerprint, or "" before SetConfiguration.
func (l *Ledger) ConfigHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fingerprint
}

// Report returns a snapshot. Component slices are copies and never nil.
func (l *Ledger) Report() Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Report{
		AgentID:   l.agentID,
		Version:   l.version,
		Timestamp: l.createdAt.Format(time.RFC3339),
		Components: Components{
			Models:   append([]Model{}, l.models...),
			Tools:    append([]Tool{}, l.tools...),
			Datasets: append([]Dataset{}, l.datasets...),
		},
		Integrity: Integrity{ConfigHash: l.fingerprint},
	}
}

// maxSafeInteger is the largest integer every IEEE 754 double holds exactly.
const maxSafeInteger = 1<<53 - 1

// Fingerprint returns the hex SHA-256 of the RFC 8785 canonical JSON encoding
// of config. Key order and construction order do not affect the result.
// Canonical JSON numbers are doubles, so integers beyond ±(2^53-1) are
// rejected rather than rounded into a colliding fingerprint.
func Fingerprint(config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	if err := checkSafeIntegers(reflect.ValueOf(config), "configuration"); err != nil {
		return "", err
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize configuration: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// checkSafeIntegers walks maps, slices and pointers looking for integers
// a double cannot represent exactly.
func checkSafeIntegers(v reflect.Value, path string) error {
	if !v.IsValid() {
		return nil
	}
	if n, ok := v.Interface().(json.Number); ok {
		if strings.ContainsAny(string(n), ".eE") {
			return nil
		}
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil || i > maxSafeInteger || i < -maxSafeInteger {
			return fmt.Errorf("%w: %s: integer %s exceeds 2^53-1", ErrUnsafeInteger, path, n)
		}
		return nil
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i := v.Int(); i > maxSafeInteger || i < -maxSafeInteger {
			return fmt.Errorf("%w: %s: integer %d exceeds 2^53-1", ErrUnsafeInteger, path, i)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := v.Uint(); u > maxSafeInteger {
			return fmt.Errorf("%w: %s: integer %d exceeds 2^53-1", ErrUnsafeInteger, path, u)
		}
	case reflect.Interface, reflect.Pointer:
		return checkSafeIntegers(v.Elem(), path)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkSafeIntegers(iter.Value(), fmt.Sprintf("%s.%v", path, iter.Key())); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil // []byte encodes as base64
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkSafeIntegers(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
