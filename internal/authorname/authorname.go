// Package authorname converts free-text author names into the canonical
// "Surname Initials" form and builds short author strings for citations.
//
// Normalization only rewrites strings that look like personal names made of
// two or three whitespace-delimited tokens. Collective authors and anything
// else that does not match pass through unchanged, so the functions are safe
// to apply to every author entry regardless of its origin.
package authorname

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// initialsToken matches a single token made only of capital initials, such
// as "K", "KJ", "K.", "K.J." or "J.-P.".
var initialsToken = regexp.MustCompile(`^(?:\p{Lu}\.?-?){1,4}$`)

// initialsStripper removes the punctuation allowed between initials.
var initialsStripper = strings.NewReplacer(",", "", ".", "", " ", "")

// Normalize renders a personal name as "<surname> <initials>".
//
//	Normalize("Smith, K. J.")    // "Smith KJ"
//	Normalize("Smith K J")       // "Smith KJ"
//	Normalize("Langkjær, Svend") // "Langkjær Svend"
//	Normalize("World Health Organization") // unchanged
func Normalize(raw string) string {
	name := strings.TrimSpace(norm.NFC.String(raw))
	tokens := strings.Fields(name)
	if len(tokens) < 2 || len(tokens) > 3 {
		return name
	}

	switch strings.Count(name, ",") {
	case 0:
		return normalizeUninverted(name, tokens)
	case 1:
		return normalizeInverted(name)
	default:
		return name
	}
}

// normalizeInverted handles the "Surname, Given" form.
func normalizeInverted(name string) string {
	idx := strings.Index(name, ",")
	surname := strings.Join(strings.Fields(name[:idx]), " ")
	rest := strings.Fields(name[idx+1:])
	if surname == "" || len(rest) == 0 {
		return name
	}

	if allInitials(rest) {
		return surname + " " + initialsStripper.Replace(strings.Join(rest, ""))
	}
	return surname + " " + strings.Join(rest, " ")
}

// normalizeUninverted handles "Surname Initials" with the initials last.
func normalizeUninverted(name string, tokens []string) string {
	split := len(tokens)
	for split > 1 && initialsToken.MatchString(tokens[split-1]) {
		split--
	}
	if split == len(tokens) {
		return name
	}

	surname := strings.Join(tokens[:split], " ")
	initials := initialsStripper.Replace(strings.Join(tokens[split:], ""))
	return surname + " " + initials
}

func allInitials(tokens []string) bool {
	for _, tok := range tokens {
		if !initialsToken.MatchString(tok) {
			return false
		}
	}
	return true
}

// NormalizeAll normalizes each name and drops blank entries.
func NormalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = Normalize(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ShortCitation builds the author part of a short citation:
//
//	[]                  -> ""
//	[A]                 -> "A"
//	[A, B]              -> "A and B"
//	[A, B, C]           -> "A, B, and C"
//	[A, B, C, D, ...]   -> "A et al."
func ShortCitation(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0]
	case 2:
		return authors[0] + " and " + authors[1]
	case 3:
		return authors[0] + ", " + authors[1] + ", and " + authors[2]
	default:
		return authors[0] + " et al."
	}
}
