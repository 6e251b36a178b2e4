// trustplane-agent is a demo agent that routes every step of its plan
// through a running trustplane gateway. The agent proposes; the gateway
// decides. If the gateway is unreachable every step is denied.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/client"
	"github.com/ppiankov/trustplane/internal/model"
)

const (
	red    = "\033[0;31m"
	green  = "\033[0;32m"
	cyan   = "\033[0;36m"
	yellow = "\033[1;33m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	reset  = "\033[0m"
)

// step is a single action the agent wants to take.
type step struct {
	Action model.Action `json:"action"`
	Why    string       `json:"why"`
}

// plan is the mission file format.
type plan struct {
	Goal  string `json:"goal"`
	Steps []step `json:"steps"`
}

// defaultPlan mixes harmless work with steps the default policy denies, then
// keeps going after the breaker opens.
var defaultPlan = plan{
	Goal: "System reconnaissance and cleanup",
	Steps: []step{
		{Action: model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "docs/runbook.md"}, Cost: 40}, Why: "read the runbook"},
		{Action: model.Action{Kind: model.KindNetworkRequest, Attributes: map[string]any{"destination": "data.census.gov"}, Cost: 60}, Why: "fetch reference data"},
		{Action: model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "/etc/shadow"}, Cost: 10}, Why: "check system credentials"},
		{Action: model.Action{Kind: model.KindShellExec, Attributes: map[string]any{"command": "rm -rf /tmp/*"}, Cost: 10}, Why: "clean up temporary files"},
		{Action: model.Action{Kind: model.KindNetworkRequest, Attributes: map[string]any{"destination": "paste.example.com"}, Cost: 10}, Why: "upload findings"},
		{Action: model.Action{Kind: model.KindFileWrite, Attributes: map[string]any{"path": "report.md"}, Cost: 20}, Why: "write the report"},
	},
}

func loadPlan(path string) (*plan, error) {
	if path == "" {
		return &defaultPlan, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(p.Steps) == 0 {
		return nil, errors.New("plan has zero steps")
	}
	return &p, nil
}

func target(a model.Action) string {
	for _, k := range []string{"path", "destination", "command"} {
		if v := a.Attr(k); v != "" {
			return v
		}
	}
	return ""
}

func main() {
	var (
		addr     string
		agent    string
		planPath string
		pause    time.Duration
	)
	root := &cobra.Command{
		Use:   "trustplane-agent",
		Short: "Demo agent whose every step goes through a trustplane gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, agent, planPath, pause)
		},
	}
	root.Flags().StringVar(&addr, "addr", envOr("TRUSTPLANE_ADDR", "127.0.0.1:9443"), "Gateway address")
	root.Flags().StringVar(&agent, "agent", envOr("TRUSTPLANE_AGENT", "demo-agent"), "Agent id")
	root.Flags().StringVar(&planPath, "plan", "", "Plan JSON file (default built-in plan)")
	root.Flags().DurationVar(&pause, "pause", 300*time.Millisecond, "Delay between steps")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(addr, agent, planPath string, pause time.Duration) error {
	p, err := loadPlan(planPath)
	if err != nil {
		return err
	}

	c, err := client.New(addr, agent)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()

	fmt.Printf("%s%s=== AGENT PLAN ===%s\n\n", bold, cyan, reset)
	fmt.Printf("%sGoal:%s %s\n", bold, reset, p.Goal)
	fmt.Printf("%sGateway: %s | Agent: %s | Steps: %d%s\n\n", dim, addr, agent, len(p.Steps), reset)
	for i, s := range p.Steps {
		fmt.Printf("  %d. %s%-16s %-32s%s %s(%s)%s\n", i+1, bold, s.Action.Kind, target(s.Action), reset, dim, s.Why, reset)
	}
	fmt.Println()

	fmt.Printf("%s%s=== EXECUTING ===%s\n\n", bold, cyan, reset)
	var allowed, denied int

	for i, s := range p.Steps {
		fmt.Printf("%s[%d/%d]%s %s\n", bold, i+1, len(p.Steps), reset, s.Why)
		fmt.Printf("  %s%s %s (cost %d)%s\n", dim, s.Action.Kind, target(s.Action), s.Action.Cost, reset)

		rec, err := c.Execute(ctx, s.Action)
		switch {
		case err != nil:
			fmt.Printf("  %sERROR%s %v\n", red, reset, err)
			denied++
		case rec.Allowed():
			fmt.Printf("  %sALLOWED%s usage=%d breaker=%s\n", green, reset, rec.CumulativeUsage, rec.BreakerState)
			allowed++
		default:
			fmt.Printf("  %sDENIED%s %s (breaker=%s)\n", red, reset, rec.Reason, orDash(rec.BreakerState))
			denied++
		}
		fmt.Println()
		time.Sleep(pause)
	}

	fmt.Printf("%s=== RESULTS ===%s\n\n", bold, reset)
	fmt.Printf("  Steps: %d  |  %sAllowed: %d%s  |  %sDenied: %d%s\n\n", len(p.Steps), green, allowed, reset, red, denied, reset)

	if st, err := c.Status(ctx); err == nil {
		fmt.Printf("%sGateway status:%s breaker=%s usage=%d/%d decisions=%d\n",
			cyan, reset, st.Breaker.State, st.Usage, st.Budget, st.Decisions)
	} else {
		fmt.Printf("%sGateway status unavailable:%s %v\n", yellow, reset, err)
	}
	if r, err := c.Report(ctx); err == nil {
		var models []string
		for _, m := range r.Components.Models {
			models = append(models, m.Name+"@"+m.Version)
		}
		fmt.Printf("%sAIBOM:%s agent=%s models=[%s] config=%s\n",
			cyan, reset, r.AgentID, strings.Join(models, ", "), r.Integrity.ConfigHash)
	}
	fmt.Println()
	fmt.Printf("%s%sDone. The agent proposed; trustplane decided.%s\n", bold, green, reset)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
