package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/systemd"
)

var (
	initMode           string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.trustplane) or system (/etc/trustplane)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install systemd trustplane@ template unit (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap trustplane configuration and optional systemd integration",
	Long: `Creates the config directory with a default config.yaml and policy.yaml.

User mode (default):  writes to ~/.trustplane/
System mode:          writes to /etc/trustplane/ (requires root)

With --install-systemd: installs a trustplane@.service template so each
config in /etc/trustplane/<name>.yaml runs as its own gateway:
  systemctl enable --now trustplane@<name>`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	if err := os.MkdirAll(filepath.Join(configDir, "aibom"), 0o755); err != nil {
		return fmt.Errorf("create aibom directory: %w", err)
	}

	policyPath := filepath.Join(configDir, "policy.yaml")
	if wrote, err := writeIfMissing(policyPath, policy.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, policyPath)
	}

	configName := "config.yaml"
	if initMode == "system" {
		configName = "default.yaml"
	}
	configFile := filepath.Join(configDir, configName)
	if wrote, err := writeIfMissing(configFile, defaultConfigFor(configDir)); err != nil {
		return err
	} else if wrote {
		created = append(created, configFile)
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}

		if err := os.WriteFile(systemd.UnitPath, []byte(systemd.ServeTemplate()), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		if err := systemd.RecordUnitFileHash(systemd.UnitPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot record unit hash: %v\n", err)
		}
		created = append(created, systemd.UnitPath)

		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("trustplane init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Verify:")
	fmt.Println("  trustplane doctor")
	fmt.Println()
	fmt.Println("Start the gateway:")
	if initMode == "system" {
		fmt.Printf("  TRUSTPLANE_CONFIG=%s trustplane serve\n", configFile)
	} else {
		fmt.Println("  trustplane serve")
	}

	if initInstallSystemd {
		fmt.Println()
		fmt.Println("Enable the systemd gateway:")
		fmt.Println("  sudo systemctl enable --now trustplane@default")
	}

	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/trustplane", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".trustplane"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// defaultConfigFor points the generated config at files inside dir.
func defaultConfigFor(dir string) string {
	content := config.DefaultYAML()
	if initMode == "system" {
		content = strings.ReplaceAll(content, "~/.trustplane/aibom/", "/var/lib/trustplane/aibom/")
		content = strings.ReplaceAll(content, "~/.trustplane/audit.jsonl", "/var/lib/trustplane/audit.jsonl")
		content = strings.ReplaceAll(content, "~/.trustplane/decisions.db", "/var/lib/trustplane/decisions.db")
	}
	return strings.ReplaceAll(content, "~/.trustplane/", dir+"/")
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
