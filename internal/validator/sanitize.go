package validator

import (
	"strings"
)

// maxStringLength bounds every sanitized string leaf.
const maxStringLength = 10000

// SanitizeData recursively walks a decoded payload and cleans every string
// leaf: control characters are stripped, surrounding whitespace is trimmed,
// and the result is truncated to 10000 characters. Non-string leaves pass
// through unchanged and nesting structure is preserved.
//
// SanitizeData is idempotent: sanitizing an already-sanitized value returns
// it unchanged.
func SanitizeData(data any) any {
	switch v := data.(type) {
	case string:
		return sanitizeString(v)
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, value := range v {
			cleaned[key] = SanitizeData(value)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(v))
		for i, value := range v {
			cleaned[i] = SanitizeData(value)
		}
		return cleaned
	default:
		return data
	}
}

// sanitizeString strips control characters, trims whitespace and truncates.
// Exactly newline (0x0A) and tab (0x09) survive out of the control range;
// carriage return is stripped along with vertical tab and form feed,
// matching the upstream pattern. Truncation happens before the final trim
// so a cut that lands on whitespace cannot leave a trailing space behind.
func sanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	if runes := []rune(cleaned); len(runes) > maxStringLength {
		cleaned = strings.TrimSpace(string(runes[:maxStringLength]))
	}
	return cleaned
}
