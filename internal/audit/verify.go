package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult reports whether an event log's chain holds. Head is the hash
// of the last line, which a later Open will use as the next prev_hash.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Agents    int    `json:"agents"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the gateway event log at path. Every line must decode to an
// AuditEntry carrying an agent_id and an event type, and its prev_hash must
// equal the SHA-256 of the raw line before it (GenesisHash for line one).
// Decision, breaker, drift and lifecycle entries share the one chain, so
// removing, reordering or editing any of them breaks the next link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	agents := map[string]struct{}{}
	want := GenesisHash
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return broken(n, "parse error: %v", err)
		}
		if entry.AgentID == "" || entry.Type == "" {
			return broken(n, "entry missing agent_id or type")
		}
		if entry.PrevHash != want {
			if n == 1 {
				return broken(n, "first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return broken(n, "hash mismatch: expected %s, got %s", want, entry.PrevHash)
		}

		agents[entry.AgentID] = struct{}{}
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res := VerifyResult{Valid: true, Lines: n, Agents: len(agents)}
	if n > 0 {
		res.Head = want
	}
	return res
}

func broken(line int, format string, args ...any) VerifyResult {
	return VerifyResult{Error: fmt.Sprintf(format, args...), ErrorLine: line}
}
