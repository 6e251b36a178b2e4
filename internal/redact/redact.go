// Package redact masks credentials and personal data in decision events
// before they are exported off the host.
package redact

import "strings"

// Mask replaces a redacted string value.
const Mask = "***"

// DefaultKeys are attribute keys whose values are always masked.
var DefaultKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "cookie", "private_key", "credential",
	"email", "phone", "ssn", "credit_card", "card_number", "cvv",
}

// MaskValue replaces a value with Mask. Numbers and bools are preserved.
func MaskValue(v any) any {
	switch v.(type) {
	case int, int64, float64, bool:
		return v
	case nil:
		return nil
	default:
		return Mask
	}
}

// keySet lowercases keys for case-insensitive lookup.
func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = true
	}
	return set
}
