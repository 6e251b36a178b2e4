package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// HashPath returns where the install-time hash of unitPath is kept.
func HashPath(unitPath string) string {
	return unitPath + ".sha256"
}

// CheckUnitFileIntegrity compares the unit file against the hash recorded
// at install. It returns a warning when the unit changed, and "" when the
// unit is intact or there is nothing to compare (no unit, no stored hash).
func CheckUnitFileIntegrity(unitPath string) string {
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return ""
	}

	stored, err := os.ReadFile(HashPath(unitPath))
	if err != nil {
		return ""
	}
	expectedHash := strings.TrimSpace(string(stored))
	if len(expectedHash) != 64 {
		return ""
	}

	h := sha256.Sum256(data)
	actualHash := hex.EncodeToString(h[:])
	if actualHash == expectedHash {
		return ""
	}

	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expectedHash[:16], actualHash[:16])
}

// RecordUnitFileHash stores the SHA-256 of unitPath next to it.
func RecordUnitFileHash(unitPath string) error {
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("read unit file: %w", err)
	}
	h := sha256.Sum256(data)
	return os.WriteFile(HashPath(unitPath), []byte(hex.EncodeToString(h[:])+"\n"), 0600)
}
