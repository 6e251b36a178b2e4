package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/app"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
)

var runAgent string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent id (default agent.id from config)")
}

var runCmd = &cobra.Command{
	Use:   "run <actions.jsonl|->",
	Short: "Submit a file of actions through an in-process gateway",
	Long: "Reads one JSON action per line, for example\n" +
		"  {\"kind\":\"file_read\",\"attributes\":{\"path\":\"docs/a.md\"},\"cost\":10}\n" +
		"submits each through the gateway in order, and prints one decision\n" +
		"record per line. On exit the AIBOM is written to the ledger destination.\n" +
		"Blank lines and lines starting with # are skipped. Use - for stdin.",
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// runSummary counts outcomes of a run.
type runSummary struct {
	Allowed int
	Denied  int
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open actions: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	g, err := a.Gateway(runAgent)
	var sum runSummary
	if err == nil {
		sum, err = executeActions(g, in, os.Stdout)
	}

	closeCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown: %w", cerr), a.Release(closeCtx))
	}

	fmt.Fprintf(os.Stderr, "%d actions: %d allowed, %d denied\n", sum.Allowed+sum.Denied, sum.Allowed, sum.Denied)
	return err
}

// executeActions submits every action in r to g and writes each record to w
// as a JSON line. It stops at the first malformed line or gateway error.
func executeActions(g *gateway.Gateway, r io.Reader, w io.Writer) (runSummary, error) {
	var sum runSummary
	enc := json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var action model.Action
		if err := json.Unmarshal([]byte(line), &action); err != nil {
			return sum, fmt.Errorf("line %d: invalid action JSON: %w", lineNum, err)
		}

		rec, err := g.Execute(action)
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if rec.Allowed() {
			sum.Allowed++
		} else {
			sum.Denied++
		}
		if err := enc.Encode(rec); err != nil {
			return sum, fmt.Errorf("write record: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("read actions: %w", err)
	}
	return sum, nil
}
