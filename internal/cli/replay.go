package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/audit"
)

var (
	replayLog     string
	replayOutcome string
	replayFrom    string
	replayTo      string
	replayLimit   int
	replayFormat  string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default events.audit_log from config)")
	replayCmd.Flags().StringVar(&replayOutcome, "outcome", "", "Only show this outcome (allowed|denied)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "Keep only the newest N entries (0 = all)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [agent-id]",
	Short: "Replay an agent's decisions from the audit log",
	Long: "Reads the audit log, filters by agent id, outcome and optional time range,\n" +
		"and renders a decision timeline with summary. Without an agent id every\n" +
		"agent is included.",
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{Outcome: replayOutcome, Limit: replayLimit}
	if len(args) > 0 {
		filter.AgentID = args[0]
	}

	switch replayOutcome {
	case "", "allowed", "denied":
	default:
		return fmt.Errorf("invalid --outcome %q: use allowed or denied", replayOutcome)
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	path := replayLog
	if path == "" {
		var err error
		if path, err = auditLogPath(nil); err != nil {
			return err
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}

	return nil
}
