package cli

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/config"
)

var (
	keygenOut   string
	keygenForce bool
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "Private key path (default ~/.trustplane/signing.pem)")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing key")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 key for signing AIBOM reports",
	Long: "Writes a PKCS#8 private key and its public key (<out>.pub).\n" +
		"Set ledger.signing_key to the private key to sign reports at shutdown;\n" +
		"distribute the .pub file to whoever runs 'trustplane report verify'.",
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	path := keygenOut
	if path == "" {
		path = config.ExpandHome("~/.trustplane/signing.pem")
	}
	if !keygenForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("key already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	pub, _, err := aibom.GenerateKey(path)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	pubPath := path + ".pub"
	if err := aibom.WriteFileAtomic(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o644); err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	fmt.Printf("Created %s\n", pubPath)
	return nil
}
