package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	scope := result.AgentID
	if scope == "" {
		scope = "all agents"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Agent: %s | No entries found.\n", scope)
	}

	var b strings.Builder

	// Header
	firstTime := formatDateRange(result.Summary.FirstTimestamp)
	lastTime := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Agent: %s | %s–%s UTC\n", scope, firstTime, lastTime))
	b.WriteString(separator + "\n")

	// Entries
	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		outcome := strings.ToUpper(e.Outcome)
		kind := ""
		if e.Action != nil {
			kind = e.Action.Kind
		}
		if outcome == "" {
			outcome = "[" + e.Type + "]"
		}
		reason := truncate(e.Reason, 40)

		b.WriteString(fmt.Sprintf("%-10s %-18s %-16s %-10s %s\n",
			ts, outcome, truncate(kind, 16), e.BreakerState, reason))
	}

	// Footer
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allowed", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d denied", s.DenyCount))
	}
	if s.PolicyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d policy", s.PolicyCount))
	}
	if s.QuotaCount > 0 {
		parts = append(parts, fmt.Sprintf("%d quota", s.QuotaCount))
	}
	if s.BreakerOpenCount > 0 {
		parts = append(parts, fmt.Sprintf("%d breaker-open", s.BreakerOpenCount))
	}
	if s.LifecycleCount > 0 {
		parts = append(parts, fmt.Sprintf("%d lifecycle", s.LifecycleCount))
	}

	return fmt.Sprintf("Summary: %s | Max usage: %d\n", strings.Join(parts, ", "), s.MaxUsage)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
