package sqlguard

import (
	"regexp"
	"strconv"
	"strings"
)

// Denylist plus target-table presence check. This is a string-level
// heuristic, not a parser: the model is the only statement author and the
// warehouse credential is read-only, so false positives are acceptable.
var forbidden = []string{
	"insert", "update", "delete", "merge",
	"drop", "create", "alter", "truncate",
	";", "--", "/*",
}

var (
	labelPrefix   = regexp.MustCompile(`(?i)^sql\b\s*`)
	fenceOpen     = regexp.MustCompile("(?is)^```(?:sql)?\\s*")
	fenceClose    = regexp.MustCompile("(?is)\\s*```$")
	selectKeyword = regexp.MustCompile(`(?i)\bselect\b`)
	selectPrefix  = regexp.MustCompile(`(?i)^\s*select\b`)
	trailingLimit = regexp.MustCompile(`(?i)\blimit\s+\d+\s*$`)
	identNoise    = regexp.MustCompile("[`\"'\\s]")
)

// Sanitize extracts a bare statement from a raw model completion: code
// fences and a leading "sql" label are stripped, everything before the
// first SELECT is discarded, and trailing statement terminators are
// removed. Input without a SELECT keyword sanitizes to the empty string.
// Sanitizing an already-sanitized statement is a no-op.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = labelPrefix.ReplaceAllString(text, "")
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")

	loc := selectKeyword.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	text = text[loc[0]:]

	return strings.TrimRight(text, "; \t\r\n")
}

// IsSafe reports whether statement is a single read-only SELECT against
// targetTable. All checks are case-insensitive substring checks.
func IsSafe(statement, targetTable string) bool {
	s := strings.ToLower(strings.TrimSpace(statement))
	if s == "" {
		return false
	}
	if !selectPrefix.MatchString(s) {
		return false
	}
	for _, token := range forbidden {
		if strings.Contains(s, token) {
			return false
		}
	}
	target := identNoise.ReplaceAllString(strings.ToLower(targetTable), "")
	if target == "" {
		return false
	}
	return strings.Contains(identNoise.ReplaceAllString(s, ""), target)
}

// EnsureLimit appends a LIMIT clause with ceiling rows unless the
// statement already ends with one.
func EnsureLimit(statement string, ceiling int) string {
	s := strings.TrimSpace(statement)
	if trailingLimit.MatchString(s) {
		return s
	}
	return s + "\nLIMIT " + strconv.Itoa(ceiling)
}
