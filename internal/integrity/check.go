// Package integrity verifies the binary checksum at startup.
// The expected hash is embedded at build time via ldflags. If the running
// binary does not match, a tamper event is recorded and the process
// refuses to start: a gateway that enforces policy must not run modified.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/trustplane/internal/alert"
	"github.com/ppiankov/trustplane/internal/events"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/trustplane/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to checksum file.
var ExpectedHash string

// TamperLogDir is the directory where tamper events are written.
// Override for testing.
var TamperLogDir = "/var/log/trustplane"

// ChecksumPaths are the paths checked (in order) for a sha256 checksum file.
// The file should contain a single hex-encoded SHA-256 hash.
var ChecksumPaths = []string{
	"/etc/trustplane/binary.sha256",
	"$HOME/.trustplane/binary.sha256",
}

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks that the running binary matches ExpectedHash, falling back
// to the checksum file at ChecksumPaths. It returns nil when they match or
// when no expected hash is available (dev mode). On mismatch the tamper
// event is logged, written to TamperLogDir and sent to every alert webhook
// subscribed to binary_tamper or denied.
func Verify(logger *slog.Logger, alerts []alert.AlertConfig) error {
	if logger == nil {
		logger = slog.Default()
	}
	expected := ExpectedHash
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		logger.Debug("integrity check skipped", "reason", "no build-time hash or checksum file")
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		logger.Debug("binary checksum verified", "sha256", actual[:8]+"..."+actual[len(actual)-8:])
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         events.TypeTamper,
	}
	event.Hostname, _ = os.Hostname()

	writeTamperEvent(logger, event, alerts)

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary.
// Useful for writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile returns the first valid hash in ChecksumPaths, or "".
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent appends the event to the tamper log, logs it for the
// journal and fires webhook alerts.
func writeTamperEvent(logger *slog.Logger, event TamperEvent, alerts []alert.AlertConfig) {
	logger.Error("TAMPER ALERT",
		"binary", event.Binary,
		"expected_hash", event.ExpectedHash,
		"actual_hash", event.ActualHash,
		"hostname", event.Hostname,
	)

	if line, err := json.Marshal(event); err == nil {
		logPath := filepath.Join(TamperLogDir, "tamper.jsonl")
		if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
			if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
				f.Write(append(line, '\n'))
				f.Sync()
				f.Close()
			}
		}
	}

	alertEvent := alertEventFromTamper(event)
	for _, cfg := range alerts {
		if !slices.Contains(cfg.Events, events.TypeTamper) && !slices.Contains(cfg.Events, "denied") {
			continue
		}
		// Synchronous: the process is about to exit.
		if err := alert.Send(cfg, alertEvent); err != nil {
			logger.Warn("tamper alert webhook failed", "url", cfg.URL, "error", err)
		}
	}
}

func alertEventFromTamper(event TamperEvent) events.Event {
	ts, err := time.Parse("2006-01-02T15:04:05.000Z", event.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	return events.Event{
		Time:      ts,
		Component: "integrity",
		Type:      events.TypeTamper,
		Outcome:   "denied",
		Reason:    fmt.Sprintf("binary checksum mismatch: expected %s, got %s", event.ExpectedHash, event.ActualHash),
		Details: map[string]string{
			"binary":        event.Binary,
			"expected_hash": event.ExpectedHash,
			"actual_hash":   event.ActualHash,
			"hostname":      event.Hostname,
		},
	}
}
