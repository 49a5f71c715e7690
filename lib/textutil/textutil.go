package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// FoldDiacritics removes combining marks so that e.g. "Terminée"
// compares equal to "Terminee".
func FoldDiacritics(s string) string {
	folded, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeLabel lowercases, strips diacritics and collapses whitespace,
// producing a form suitable for prefix matching against configured markers.
func NormalizeLabel(s string) string {
	s = FoldDiacritics(s)
	s = strings.ToLower(s)
	s = strings.Trim(s, " \n\t")
	return whitespaceRegex.ReplaceAllString(s, " ")
}

func HasAnyPrefix(s string, prefixes []string) bool {
	s = NormalizeLabel(s)
	for _, p := range prefixes {
		if strings.HasPrefix(s, NormalizeLabel(p)) {
			return true
		}
	}
	return false
}
