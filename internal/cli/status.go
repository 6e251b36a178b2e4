package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/client"
	"github.com/ppiankov/trustplane/internal/gateway"
)

var (
	statusAddr   string
	statusAgent  string
	statusFormat string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "gateway address (default: server.listen from config)")
	statusCmd.Flags().StringVar(&statusAgent, "agent", "", "agent ID (default: agent.id from config)")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "Output format (text|json)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker state and budget usage for an agent",
	Long:  "Queries a running gateway for one agent's breaker state, token usage\nagainst its budget, and decision counts.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := statusAddr
	if addr == "" {
		addr = cfg.Server.Listen
	}
	agent := statusAgent
	if agent == "" {
		agent = cfg.Agent.ID
	}

	c, err := client.New(addr, agent)
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Status(context.Background())
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}

	if statusFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st gateway.Status) {
	fmt.Fprintf(w, "Agent:      %s (%s)\n", st.AgentID, st.State)
	fmt.Fprintf(w, "Breaker:    %s (%d/%d failures)\n",
		st.Breaker.State, st.Breaker.ConsecutiveFailures, st.Breaker.FailureThreshold)
	if st.Breaker.LastFailureReason != "" {
		fmt.Fprintf(w, "            last: %s\n", st.Breaker.LastFailureReason)
	}
	if st.Budget > 0 {
		fmt.Fprintf(w, "Budget:     %d / %d tokens (%d remaining)\n", st.Usage, st.Budget, st.Remaining)
	} else {
		fmt.Fprintf(w, "Budget:     %d tokens used (unlimited)\n", st.Usage)
	}
	fmt.Fprintf(w, "Decisions:  %d (%d allowed, %d denied)\n", st.Decisions, st.Allowed, st.Denied)
	fmt.Fprintf(w, "Rules:      %d (version %d)\n", st.Rules, st.RulesVersion)
	if st.ConfigHash != "" {
		fmt.Fprintf(w, "Config:     %s\n", shortHash(st.ConfigHash))
	}
}
