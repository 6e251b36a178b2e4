package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/app"
	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/server"
)

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (overrides server.listen)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC trust gateway",
	Long: "Runs trustplane as a central gateway over gRPC. Agents connect as\n" +
		"clients and submit actions; each agent id gets its own breaker and budget.\n" +
		"The policy file is hot-reloaded on change or SIGHUP. On SIGINT/SIGTERM every\n" +
		"agent's AIBOM is written to the ledger destination before exit.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	srv := server.New(server.Config{Listen: cfg.Server.Listen, DefaultAgent: cfg.Agent.ID}, a.Registry, logger)

	policyPath := cfg.PolicyPath
	if policyPath == "" {
		policyPath = policy.DefaultPath()
	}
	reloader, err := server.NewReloader(a, []string{policyPath}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := a.ReloadPolicy(); err != nil {
					logger.Error("policy reload failed, keeping previous rules", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	fmt.Fprintf(os.Stderr, "trustplane gateway listening on %s\n", cfg.Server.Listen)
	fmt.Fprintf(os.Stderr, "Default agent: %s\n", cfg.Agent.ID)
	if reloader != nil && len(reloader.Paths()) > 0 {
		fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", policyPath)
	}
	fmt.Fprintln(os.Stderr)

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nShutting down gateway...")
		srv.GracefulStop()
		<-errCh
	case serveErr = <-errCh:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := a.Close(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown: %w", err), a.Release(shutdownCtx))
	}
	return serveErr
}
