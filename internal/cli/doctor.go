package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/audit"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/systemd"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := doctorChecks(configPath)

	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

func doctorChecks(cfgPath string) []checkResult {
	var checks []checkResult

	// 1. Binary location and version.
	if execPath, _ := os.Executable(); execPath != "" {
		checks = append(checks, checkResult{
			label:  "trustplane binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "trustplane binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config file.
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	switch {
	case err != nil:
		checks = append(checks, checkResult{label: "config", ok: false, detail: err.Error(), fix: "fix " + cfgPath})
		return checks
	case fileExists(cfgPath):
		checks = append(checks, checkResult{label: "config", ok: true, detail: cfgPath})
	default:
		checks = append(checks, checkResult{label: "config", ok: false, detail: "missing, using defaults", fix: "trustplane init"})
	}

	// 3. Policy.
	policyPath := cfg.PolicyPath
	if policyPath == "" {
		policyPath = policy.DefaultPath()
	}
	if rules, hash, err := policy.LoadRules(policyPath); err != nil {
		checks = append(checks, checkResult{label: "policy", ok: false, detail: err.Error(), fix: "fix " + policyPath})
	} else if !fileExists(policyPath) {
		checks = append(checks, checkResult{label: "policy", ok: false, detail: fmt.Sprintf("missing, %d built-in rules", len(rules)), fix: "trustplane init-policy"})
	} else {
		checks = append(checks, checkResult{label: "policy", ok: true, detail: fmt.Sprintf("%d rules (%s)", len(rules), shortHash(hash))})
	}

	// 4. Signing key.
	if cfg.Ledger.SigningKey == "" {
		checks = append(checks, checkResult{label: "signing key", ok: true, detail: "not configured, reports unsigned"})
	} else if _, err := aibom.LoadPrivateKey(cfg.Ledger.SigningKey); err != nil {
		checks = append(checks, checkResult{label: "signing key", ok: false, detail: err.Error(), fix: "trustplane keygen -o " + cfg.Ledger.SigningKey})
	} else {
		checks = append(checks, checkResult{label: "signing key", ok: true, detail: cfg.Ledger.SigningKey})
	}

	// 5. Ledger destination.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if dst, err := aibom.OpenDestination(ctx, cfg.Destination(cfg.Agent.ID)); err != nil {
		checks = append(checks, checkResult{label: "ledger destination", ok: false, detail: err.Error(), fix: "fix ledger.destination"})
	} else {
		checks = append(checks, checkResult{label: "ledger destination", ok: true, detail: dst.String()})
	}

	// 6. Audit log chain.
	if cfg.Events.AuditLog != "" && fileExists(cfg.Events.AuditLog) {
		if r := audit.Verify(cfg.Events.AuditLog); r.Valid {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d entries verified", r.Lines)})
		} else {
			checks = append(checks, checkResult{label: "audit log", ok: false, detail: fmt.Sprintf("broken at line %d: %s", r.ErrorLine, r.Error)})
		}
	}

	// 7. systemd (Linux only).
	if runtime.GOOS == "linux" {
		if !fileExists(systemd.UnitPath) {
			checks = append(checks, checkResult{
				label:  "trustplane@ unit",
				ok:     false,
				detail: "not installed",
				fix:    "sudo trustplane init --mode system --install-systemd",
			})
		} else if warning := systemd.CheckUnitFileIntegrity(systemd.UnitPath); warning != "" {
			checks = append(checks, checkResult{label: "trustplane@ unit", ok: false, detail: warning, fix: "sudo trustplane init --mode system --install-systemd --force"})
		} else {
			checks = append(checks, checkResult{label: "trustplane@ unit", ok: true, detail: "installed"})
		}
	}

	return checks
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
