package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/trustplane/internal/events"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event events.Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event events.Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event events.Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("trustplane: %s", headline(event)),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", event.AgentID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", orDash(event.Kind))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Breaker:* %s", orDash(event.BreakerState))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", orDash(event.Reason))},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event events.Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("trustplane %s: %s", headline(event), event.AgentID),
			"severity": severityFor(event),
			"source":   "trustplane",
			"custom_details": map[string]any{
				"agent_id":         event.AgentID,
				"kind":             event.Kind,
				"reason":           event.Reason,
				"breaker_state":    event.BreakerState,
				"cumulative_usage": event.CumulativeUsage,
				"record_id":        event.RecordID,
			},
		},
	}
	return json.Marshal(payload)
}

func headline(event events.Event) string {
	if event.Type == events.TypeDecision {
		return event.Outcome
	}
	return event.Type
}

// severityFor ranks a breaker opening above a single denial.
func severityFor(event events.Event) string {
	switch {
	case event.Type == events.TypeTamper:
		return "critical"
	case event.Type == events.TypeBreaker && event.BreakerState == "OPEN":
		return "critical"
	case event.Type == events.TypeBreaker:
		return "warning"
	case event.Outcome == "denied":
		return "error"
	default:
		return "info"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
