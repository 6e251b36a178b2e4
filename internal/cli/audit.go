package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/audit"
)

var (
	tailLines    int
	summaryAgent string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditSummaryCmd)
	auditSummaryCmd.Flags().StringVar(&summaryAgent, "agent", "", "Only count this agent")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.\n" +
		"Defaults to events.audit_log from the config.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary [path]",
	Short: "Summarize decisions in an audit log",
	Long:  "Counts allowed and denied decisions by denial cause and reports the\ntime span and peak token usage.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditSummary,
}

// auditLogPath returns args[0] or the configured audit log.
func auditLogPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Events.AuditLog == "" {
		return "", fmt.Errorf("no audit log path given and events.audit_log is not configured")
	}
	return cfg.Events.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries from %d agents verified\n", result.Lines, result.Agents)
		if result.Head != "" {
			fmt.Printf("head: %s\n", result.Head)
		}
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(args)
	if err != nil {
		return err
	}
	result, err := audit.Replay(path, audit.ReplayFilter{Limit: tailLines})
	if err != nil {
		return err
	}

	for _, entry := range result.Entries {
		out, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Println(string(out))
	}

	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(args)
	if err != nil {
		return err
	}
	result, err := audit.Replay(path, audit.ReplayFilter{AgentID: summaryAgent})
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(result.Summary, "", "  ")
	fmt.Println(string(out))
	return nil
}
