package memstore

import "regexp"

// secretPatterns matches the literal redaction patterns named in spec §4.5.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?s)-----BEGIN[^-]*PRIVATE KEY-----.*?-----END[^-]*PRIVATE KEY-----`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces every secret-shaped substring of s with a placeholder.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// TruncateContent hard-caps s at MaxContentBytes, appending an ellipsis
// when it had to cut.
func TruncateContent(s string) string {
	if len(s) <= MaxContentBytes {
		return s
	}
	return s[:MaxContentBytes-len("…")] + "…"
}
