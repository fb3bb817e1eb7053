package authorname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"inverted with spaced initials", "Smith, K. J.", "Smith KJ"},
		{"inverted with joined initials", "Smith, K.J.", "Smith KJ"},
		{"inverted without periods", "Smith, K J", "Smith KJ"},
		{"uninverted compact", "Smith KJ", "Smith KJ"},
		{"uninverted with periods", "Smith K. J.", "Smith KJ"},
		{"uninverted single initial", "Smith K", "Smith K"},
		{"compound surname", "de Vries, K", "de Vries K"},
		{"compound surname uninverted", "De Vries KJ", "De Vries KJ"},
		{"diacritics preserved", "Langkjær, Svend", "Langkjær Svend"},
		{"decomposed diacritics composed", "Mu\u0308ller, H", "M\u00fcller H"},
		{"hyphenated initials", "Dupont, J.-P.", "Dupont J-P"},
		{"surrounding whitespace trimmed", "  Smith, K. J.  ", "Smith KJ"},
		{"collective name unchanged", "World Health Organization", "World Health Organization"},
		{"single token unchanged", "Anonymous", "Anonymous"},
		{"four tokens unchanged", "National Toxicology Program Staff", "National Toxicology Program Staff"},
		{"two commas unchanged", "Smith, K, J", "Smith, K, J"},
		{"given name last unchanged", "John Smith", "John Smith"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_PunctuationVariantsConverge(t *testing.T) {
	variants := []string{"Smith, K.J.", "Smith KJ", "Smith, K J", "Smith K. J."}
	for _, v := range variants {
		assert.Equal(t, "Smith KJ", Normalize(v), "variant %q", v)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"Smith, K. J.", "Langkjær, Svend", "EPA", "Health Canada"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"Smith, K. J.", "  ", "Doe J"})
	assert.Equal(t, []string{"Smith KJ", "Doe J"}, got)

	assert.Empty(t, NormalizeAll(nil))
}

func TestShortCitation(t *testing.T) {
	tests := []struct {
		name     string
		authors  []string
		expected string
	}{
		{"no authors", nil, ""},
		{"empty slice", []string{}, ""},
		{"one author", []string{"A"}, "A"},
		{"two authors", []string{"A", "B"}, "A and B"},
		{"three authors", []string{"A", "B", "C"}, "A, B, and C"},
		{"four authors", []string{"A", "B", "C", "D"}, "A et al."},
		{"many authors", []string{"Smith KJ", "Doe J", "Roe R", "Poe E", "Moe M"}, "Smith KJ et al."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortCitation(tt.authors))
		})
	}
}
