package audio

import (
	"strings"
	"unicode"
)

// NormalizeName canonicalizes a person or segment name for use as a store
// key. Letters are lower-cased, punctuation is dropped, and runs of
// whitespace collapse to single underscores, so "LaShawn Boyd" and
// "lashawn_boyd" address the same audio across every tier.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || r == '_' || r == '-':
			pendingSep = true
		default:
			// Punctuation ("Dr.", "O'Brien") is stripped entirely.
		}
	}

	return b.String()
}
