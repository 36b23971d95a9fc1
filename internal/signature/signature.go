// Package signature normalizes raw failure logs into comparable
// fingerprints so repeated failures can be detected across attempts.
package signature

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxLength bounds the fingerprint; everything past the prefix is noise for
// comparison purposes.
const maxLength = 300

var (
	isoTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	lineRefRe      = regexp.MustCompile(`(?i)\bline\s+\d+\b`)
	rowColRe       = regexp.MustCompile(`\b\d+:\d+\b`)
	digitRunRe     = regexp.MustCompile(`\b\d+\b`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Extract is a pure function from a raw log to its signature. Two logs with
// the same shape after normalization share a signature regardless of embedded
// timestamps, counters, or line numbers.
func Extract(raw string) string {
	s := isoTimestampRe.ReplaceAllString(raw, "")
	s = lineRefRe.ReplaceAllString(s, "line X")
	s = rowColRe.ReplaceAllString(s, "X:X")
	s = digitRunRe.ReplaceAllString(s, "N")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	return truncate(s, maxLength)
}

// Summary extracts a short human-readable error line from a raw log: the
// first line mentioning an error, or the first non-empty line.
func Summary(raw string) string {
	var first string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			return truncate(line, 200)
		}
	}
	return truncate(first, 200)
}

// truncate cuts s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
