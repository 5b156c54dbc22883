package score

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize aggressively canonicalizes text for rule matching: it strips
// diacritics (á -> a), lower-cases, and collapses any whitespace run
// (spaces, tabs, newlines) to a single space, trimming the ends. An empty
// input yields an empty string. Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, text)
	if err != nil {
		s = text // Fallback to original if decomposition fails
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}
