package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/policydiff"
)

var (
	diffFormat   string
	diffExitCode bool
)

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
	diffCmd.Flags().BoolVar(&diffExitCode, "exit-code", false, "Exit 1 when the rule sets differ")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare the deny rules of two policy files",
	Long: `Compares two policy files rule by rule, keyed by rule name. Reports rules
added or removed, effect and predicate changes on shared rules, and whether
the evaluation order of shared rules moved. Both files must exist and build;
the policy_hash shown is the one gateways record in their reports.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := diffPolicies(cmd.OutOrStdout(), args[0], args[1], diffFormat)
		if err != nil {
			return err
		}
		if changed && diffExitCode {
			os.Exit(1)
		}
		return nil
	},
}

// diffPolicies writes the rule diff of two policy files to w and reports
// whether anything changed.
func diffPolicies(w io.Writer, oldPath, newPath, format string) (bool, error) {
	if format != "text" && format != "json" {
		return false, fmt.Errorf("unknown format %q (want text or json)", format)
	}
	oldCfg, oldHash, err := loadDiffSide(oldPath)
	if err != nil {
		return false, err
	}
	newCfg, newHash, err := loadDiffSide(newPath)
	if err != nil {
		return false, err
	}

	r := policydiff.Diff(oldCfg, newCfg)
	r.OldPath, r.NewPath = oldPath, newPath
	r.OldHash, r.NewHash = oldHash, newHash

	if format == "json" {
		out, err := policydiff.FormatJSON(r)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprintln(w, out)
		return r.HasChanges, err
	}
	_, err = io.WriteString(w, policydiff.FormatText(r))
	return r.HasChanges, err
}

// loadDiffSide refuses a missing file, which policy.LoadConfig would
// silently replace with the defaults.
func loadDiffSide(path string) (*policy.Config, string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", path, err)
	}
	cfg, hash, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", path, err)
	}
	if _, err := cfg.Build(); err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, hash, nil
}
