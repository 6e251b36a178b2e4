package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/app"
	tpmcp "github.com/ppiankov/trustplane/internal/mcp"
)

var mcpAgent string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Agent id (default agent.id from config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs trustplane as an MCP (Model Context Protocol) server over stdio for one\n" +
		"agent. Exposes tools: trustplane_execute, trustplane_check, trustplane_report,\n" +
		"trustplane_status. The AIBOM is written to the ledger destination on exit.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	g, err := a.Gateway(mcpAgent)
	if err != nil {
		a.Close(context.Background())
		a.Release(context.Background())
		return err
	}

	srv := tpmcp.New(tpmcp.Config{Version: version, Logger: logger}, g)

	fmt.Fprintf(os.Stderr, "trustplane MCP server running on stdio (agent %s)\n\n", g.AgentID())

	err = srv.Run(ctx)

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Session summary:")
	out, _ := json.MarshalIndent(g.Status(), "", "  ")
	fmt.Fprintln(os.Stderr, string(out))

	closeCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if cerr := a.Close(closeCtx); cerr != nil {
		a.Release(closeCtx)
		if err == nil {
			err = cerr
		}
	}
	return err
}
