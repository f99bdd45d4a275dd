package recording

import "strings"

// SanitizeToken maps a room ID to a string safe for use as a single path
// component: ASCII alphanumerics, '-', and '_' pass through; everything
// else becomes '_'; leading/trailing '_' are trimmed; an empty result
// becomes "unknown". Idempotent: SanitizeToken(SanitizeToken(s)) == SanitizeToken(s).
func SanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
