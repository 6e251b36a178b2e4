package audit

import (
	"github.com/ppiankov/trustplane/internal/events"
)

// AuditAction is the action recorded in each audit entry.
type AuditAction struct {
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Cost       int64          `json:"cost"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// Struct fields keep json.Marshal field order fixed; map keys are sorted
// by encoding/json.
type AuditEntry struct {
	Timestamp       string            `json:"ts"`
	AgentID         string            `json:"agent_id"`
	Type            string            `json:"type"`
	RecordID        string            `json:"record_id,omitempty"`
	Action          *AuditAction      `json:"action,omitempty"`
	Outcome         string            `json:"outcome,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Rule            string            `json:"rule,omitempty"`
	BreakerState    string            `json:"breaker_state,omitempty"`
	CumulativeUsage int64             `json:"cumulative_usage"`
	Details         map[string]string `json:"details,omitempty"`
	PrevHash        string            `json:"prev_hash"`
}

// EntryFromEvent flattens an event into an audit entry. PrevHash is set by
// Log.Record.
func EntryFromEvent(e events.Event) AuditEntry {
	entry := AuditEntry{
		AgentID:         e.AgentID,
		Type:            e.Type,
		RecordID:        e.RecordID,
		Outcome:         e.Outcome,
		Reason:          e.Reason,
		Rule:            e.Rule,
		BreakerState:    e.BreakerState,
		CumulativeUsage: e.CumulativeUsage,
		Details:         e.Details,
	}
	if !e.Time.IsZero() {
		entry.Timestamp = e.Time.UTC().Format(TimestampFormat)
	}
	if e.Kind != "" {
		entry.Action = &AuditAction{Kind: e.Kind, Attributes: e.Attributes, Cost: e.Cost}
	}
	return entry
}
