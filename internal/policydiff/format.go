package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)
	if r.OldHash != "" && r.NewHash != "" {
		fmt.Fprintf(&b, "  policy_hash: %s → %s\n", r.OldHash, r.NewHash)
	}

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Rules:\n")
		for _, rc := range r.RuleChanges {
			switch rc.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s (%s)\n", rc.Rule, rc.Effect)
			case "removed":
				fmt.Fprintf(&b, "    - %s (%s)\n", rc.Rule, rc.Effect)
			}
		}
	}

	if len(r.Changes) > 0 {
		b.WriteString("\n  Changed:\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&b, "    ~ %s %s: %s → %s", c.Rule, c.Field, c.Old, c.New)
			if c.Comment != "" {
				fmt.Fprintf(&b, "  (%s)", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	if r.OrderChanged {
		b.WriteString("\n  Rule order changed (first matching deny wins).\n")
	}

	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
