package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/store"
)

var (
	decisionsDB      string
	decisionsAgent   string
	decisionsOutcome string
	decisionsLimit   int
	decisionsFormat  string
)

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.Flags().StringVar(&decisionsDB, "db", "", "Path to decision database (default events.sqlite from config)")
	decisionsCmd.Flags().StringVar(&decisionsAgent, "agent", "", "Only show this agent")
	decisionsCmd.Flags().StringVar(&decisionsOutcome, "outcome", "", "Only show this outcome (allowed|denied)")
	decisionsCmd.Flags().IntVarP(&decisionsLimit, "limit", "n", 20, "Number of recent decisions")
	decisionsCmd.Flags().StringVarP(&decisionsFormat, "format", "f", "text", "Output format (text|json)")
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Query recorded decisions",
	Long:  "Lists recent decision records from the SQLite decision store, oldest first,\nwith allowed/denied totals.",
	RunE:  runDecisions,
}

func runDecisions(cmd *cobra.Command, args []string) error {
	path := decisionsDB
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Events.SQLite
	}
	if path == "" {
		return fmt.Errorf("no --db given and events.sqlite is not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("decision store: %w", err)
	}

	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	records, err := s.List(ctx, store.Query{
		AgentID: decisionsAgent,
		Outcome: model.Outcome(decisionsOutcome),
		Limit:   decisionsLimit,
	})
	if err != nil {
		return err
	}
	counts, err := s.Count(ctx, decisionsAgent)
	if err != nil {
		return err
	}

	if decisionsFormat == "json" {
		out, err := json.MarshalIndent(map[string]any{
			"decisions": records,
			"counts":    counts,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAGENT\tKIND\tOUTCOME\tBREAKER\tUSAGE\tREASON")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.AgentID, r.Action.Kind,
			r.Outcome, r.BreakerState, r.CumulativeUsage, r.Reason)
	}
	tw.Flush()
	fmt.Printf("\n%d decisions: %d allowed, %d denied\n", counts.Total, counts.Allowed, counts.Denied)
	return nil
}
