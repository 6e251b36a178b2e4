package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternCred   PatternType = "CRED"
	PatternBearer PatternType = "BEARER"
	PatternAWSKey PatternType = "AWS_KEY"
	PatternPEM    PatternType = "PRIVATE_KEY"
	PatternEmail  PatternType = "EMAIL"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

// Pattern is a compiled detector.
type Pattern struct {
	Type  PatternType
	Regex *regexp.Regexp
}

var (
	// key=value pairs where the key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|auth)[ \t]*[=:][ \t]*\S+)`)

	bearerRe = regexp.MustCompile(`(?i)\bbearer[ \t]+[A-Za-z0-9._~+/=-]{8,}`)

	awsKeyRe = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)

	pemRe = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)

	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)
)

// DefaultPatterns are the built-in detectors, in scan order.
var DefaultPatterns = []Pattern{
	{PatternPEM, pemRe},
	{PatternBearer, bearerRe},
	{PatternAWSKey, awsKeyRe},
	{PatternCred, credKVRe},
	{PatternEmail, emailRe},
}

// Scan finds sensitive values in text and returns deduplicated matches
// sorted by position.
func Scan(text string, patterns []Pattern) []Match {
	seen := make(map[string]bool)
	var matches []Match

	for _, p := range patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			v := strings.TrimRight(text[loc[0]:loc[1]], ".,;\"'`)}]")
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			matches = append(matches, Match{Type: p.Type, Value: v, Start: loc[0], End: loc[0] + len(v)})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// Text replaces every match in text with a [TYPE] placeholder.
// Longer values are replaced first so overlapping matches collapse cleanly.
func Text(text string, patterns []Pattern) string {
	matches := Scan(text, patterns)
	if len(matches) == 0 {
		return text
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i].Value) > len(matches[j].Value)
	})
	for _, m := range matches {
		text = strings.ReplaceAll(text, m.Value, "["+string(m.Type)+"]")
	}
	return text
}
