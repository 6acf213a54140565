package dialog

import "strings"

// Keyword lists distilled from call transcripts. Negative phrases are
// checked before affirmative ones so "not sure" and "no thanks" never
// match on their embedded positive words.
var (
	negativePhrases = []string{
		"no", "nope", "not really", "not interested", "no thanks",
		"don't think so", "i'm not",
		// Do-not-call requests classify as negative: in the greeting they
		// route to the DNC question, and at the DNC question itself they
		// confirm removal.
		"remove", "do not call", "don't call", "take me off",
		"unsubscribe", "stop calling",
	}

	affirmativePhrases = []string{
		"yes", "yeah", "yep", "sure", "absolutely", "definitely",
		"of course", "okay", "ok", "sounds good", "that's fine", "it will",
	}

	ambiguousPhrases = []string{
		"maybe", "not sure", "i don't know", "let me think", "perhaps",
	}
)

// Classify buckets a raw customer utterance into a Category. Empty or
// whitespace-only input is CategoryNone; anything that matches no keyword
// list is CategoryAmbiguous.
func Classify(utterance string) Category {
	clean := sanitize(utterance)
	if clean == "" {
		return CategoryNone
	}

	// Order matters: explicit uncertainty first ("not sure" contains both
	// a negative and an affirmative token), then negative, then affirmative.
	switch {
	case containsAny(clean, ambiguousPhrases):
		return CategoryAmbiguous
	case containsAny(clean, negativePhrases):
		return CategoryNegative
	case containsAny(clean, affirmativePhrases):
		return CategoryAffirmative
	default:
		return CategoryAmbiguous
	}
}

// sanitize lower-cases the utterance and strips punctuation so phrase
// matching works on plain word sequences.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsAny reports whether any phrase occurs in the utterance on word
// boundaries.
func containsAny(clean string, phrases []string) bool {
	padded := " " + clean + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
