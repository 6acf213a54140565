package dialog

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		utterance string
		want      Category
	}{
		// Affirmative.
		{"yes", CategoryAffirmative},
		{"Yes!", CategoryAffirmative},
		{"yeah, sounds good", CategoryAffirmative},
		{"OK", CategoryAffirmative},
		{"absolutely, of course", CategoryAffirmative},
		{"sure, that's fine", CategoryAffirmative},

		// Negative.
		{"no", CategoryNegative},
		{"No thanks.", CategoryNegative},
		{"nope", CategoryNegative},
		{"I'm not interested", CategoryNegative},
		{"please stop calling me", CategoryNegative},
		{"take me off your list", CategoryNegative},
		{"do not call this number again", CategoryNegative},

		// A DNC request phrased politely still classifies negative, so the
		// DNC question stage confirms the removal.
		{"yes, remove me from your list", CategoryNegative},

		// Ambiguous wins over its embedded positive/negative words.
		{"not sure", CategoryAmbiguous},
		{"I'm not sure yet", CategoryAmbiguous},
		{"maybe", CategoryAmbiguous},
		{"let me think about it", CategoryAmbiguous},
		{"I don't know", CategoryAmbiguous},

		// Unrecognized input.
		{"what is this about", CategoryAmbiguous},
		{"hablo español", CategoryAmbiguous},

		// Word boundaries: "sure" must not match inside other words.
		{"the pressure is high", CategoryAmbiguous},
		{"nothing for me", CategoryAmbiguous},

		// No input at all.
		{"", CategoryNone},
		{"   ", CategoryNone},
		{"...", CategoryNone},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			if got := Classify(tt.utterance); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.utterance, got, tt.want)
			}
		})
	}
}

func TestClassifyCaseAndPunctuationInsensitive(t *testing.T) {
	variants := []string{"yes", "YES", "Yes.", " yes! ", "yes,"}
	for _, v := range variants {
		if got := Classify(v); got != CategoryAffirmative {
			t.Errorf("Classify(%q) = %s, want affirmative", v, got)
		}
	}
}
