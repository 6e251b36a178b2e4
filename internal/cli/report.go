package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/aibom"
)

var reportKey string

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportValidateCmd)
	reportCmd.AddCommand(reportVerifyCmd)
	reportVerifyCmd.Flags().StringVar(&reportKey, "key", "", "Public key PEM, or the signing key itself (default ledger.signing_key from config)")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "AIBOM report operations",
	Long:  "Commands for validating and verifying persisted AI bill of materials reports.",
}

var reportValidateCmd = &cobra.Command{
	Use:   "validate <report.json>",
	Short: "Validate a report against the AIBOM schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportValidate,
}

var reportVerifyCmd = &cobra.Command{
	Use:   "verify <report.json> [signature]",
	Short: "Verify a report's detached signature",
	Long: "Checks the EdDSA signature written next to the report at shutdown.\n" +
		"The signature defaults to <report.json>.sig. Exits 1 on mismatch.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runReportVerify,
}

func runReportValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	r, err := aibom.ParseReport(data)
	if err != nil {
		return err
	}
	fmt.Printf("OK: agent %s v%s, %d models, %d tools, %d datasets, config %s\n",
		r.AgentID, r.Version,
		len(r.Components.Models), len(r.Components.Tools), len(r.Components.Datasets),
		shortHash(r.Integrity.ConfigHash))
	return nil
}

func runReportVerify(cmd *cobra.Command, args []string) error {
	if err := verifyReport(args); err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: signature valid")
	return nil
}

func verifyReport(args []string) error {
	reportPath := args[0]
	sigPath := reportPath + aibom.SignatureSuffix
	if len(args) > 1 {
		sigPath = args[1]
	}

	keyPath := reportKey
	if keyPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keyPath = cfg.Ledger.SigningKey
	}
	if keyPath == "" {
		return errors.New("no --key given and ledger.signing_key is not configured")
	}

	pub, err := aibom.LoadPublicKey(keyPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	return aibom.VerifySignature(data, strings.TrimSpace(string(sig)), pub)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
