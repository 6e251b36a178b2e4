package aibom

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Report is the durable AIBOM document.
type Report struct {
	AgentID    string     `json:"agent_id"`
	Version    string     `json:"version"`
	Timestamp  string     `json:"timestamp"`
	Components Components `json:"components"`
	Integrity  Integrity  `json:"integrity"`
}

// Components lists every declaration in order.
type Components struct {
	Models   []Model   `json:"models"`
	Tools    []Tool    `json:"tools"`
	Datasets []Dataset `json:"datasets"`
}

// Integrity carries the configuration fingerprint.
type Integrity struct {
	ConfigHash string `json:"config_hash"`
}

//go:embed report.schema.json
var reportSchemaJSON string

const reportSchemaURL = "https://trustplane.schemas.local/aibom/report.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func reportSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(reportSchemaURL, bytes.NewReader([]byte(reportSchemaJSON))); err != nil {
			schemaErr = fmt.Errorf("report schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(reportSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("report schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Validate checks an encoded report against the report schema.
func Validate(data []byte) error {
	schema, err := reportSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid report JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("report schema validation failed: %w", err)
	}
	return nil
}

// Marshal encodes the report as indented JSON and validates it.
func (r Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseReport decodes and validates a report.
func ParseReport(data []byte) (Report, error) {
	if err := Validate(data); err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("invalid report JSON: %w", err)
	}
	return r, nil
}

// Persist validates the current report and writes it to dst. When the ledger
// has a signing key, a detached signature is written to dst.Key+".sig".
// Every failure is wrapped with ErrPersistence.
func (l *Ledger) Persist(ctx context.Context, dst Destination) error {
	if dst.Sink == nil {
		return fmt.Errorf("%w: no destination", ErrPersistence)
	}

	data, err := l.Report().Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := dst.Sink.Put(ctx, dst.Key, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, dst, err)
	}

	if l.signingKey != nil {
		sig, err := Sign(data, l.signingKey)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if err := dst.Sink.Put(ctx, dst.Key+SignatureSuffix, []byte(sig+"\n")); err != nil {
			return fmt.Errorf("%w: signature: %w", ErrPersistence, err)
		}
	}

	l.logger.Info("ledger persisted", "destination", dst.String(), "bytes", len(data), "signed", l.signingKey != nil)
	return nil
}
