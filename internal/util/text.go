package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, which Postgres
// rejects in text columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// Snippet collapses runs of whitespace and cuts the result to at most
// maxRunes runes, appending "..." when something was cut.
func Snippet(value string, maxRunes int) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(collapsed)
	if len(runes) <= maxRunes {
		return collapsed
	}
	return string(runes[:maxRunes]) + "..."
}
