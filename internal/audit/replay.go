package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/trustplane/internal/events"
)

// ReplayFilter holds filtering criteria for a log replay.
type ReplayFilter struct {
	AgentID string    // empty = all agents
	Outcome string    // "allowed", "denied", or empty
	From    time.Time // zero value = no lower bound
	To      time.Time // zero value = no upper bound
	Limit   int       // keep only the last N matches; 0 = all
}

// ReplaySummary holds decision counts and metadata for a replayed log.
type ReplaySummary struct {
	Total            int    `json:"total"`
	AllowCount       int    `json:"allow_count"`
	DenyCount        int    `json:"deny_count"`
	BreakerOpenCount int    `json:"breaker_open_count"`
	QuotaCount       int    `json:"quota_count"`
	PolicyCount      int    `json:"policy_count"`
	LifecycleCount   int    `json:"lifecycle_count"`
	FirstTimestamp   string `json:"first_timestamp"`
	LastTimestamp    string `json:"last_timestamp"`
	MaxUsage         int64  `json:"max_usage"`
}

// ReplayResult holds filtered entries and summary for a replay.
type ReplayResult struct {
	AgentID string        `json:"agent_id,omitempty"`
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		AgentID: filter.AgentID,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Limit > 0 && len(result.Entries) > filter.Limit {
		result.Entries = result.Entries[len(result.Entries)-filter.Limit:]
	}
	for _, e := range result.Entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f ReplayFilter) matches(entry AuditEntry) bool {
	if f.AgentID != "" && entry.AgentID != f.AgentID {
		return false
	}
	if f.Outcome != "" && !strings.EqualFold(entry.Outcome, f.Outcome) {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, entry.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++

	if entry.Type != events.TypeDecision {
		s.LifecycleCount++
	}

	switch strings.ToLower(entry.Outcome) {
	case "allowed":
		s.AllowCount++
	case "denied":
		s.DenyCount++
		switch {
		case entry.Reason == "breaker open":
			s.BreakerOpenCount++
		case entry.Reason == "resource quota exceeded":
			s.QuotaCount++
		case strings.HasPrefix(entry.Reason, "policy violation"):
			s.PolicyCount++
		}
	}

	if entry.CumulativeUsage > s.MaxUsage {
		s.MaxUsage = entry.CumulativeUsage
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
