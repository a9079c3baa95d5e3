package identity

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlphaRegex = regexp.MustCompile(`[^A-Z\s]`)

// Fold strips diacritics and upper-cases s, so "Hélène" and "HELENE" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(folded)
}

// NameParts splits a person name into folded parts.
// Handles: "SMITH^JOHN", "John Smith", "smith, john", "Dupont-Durand^Hélène".
func NameParts(name string) []string {
	name = Fold(name)
	name = strings.NewReplacer("^", " ", ",", " ", "-", " ", "=", " ").Replace(name)
	name = nonAlphaRegex.ReplaceAllString(name, "")
	return strings.Fields(name)
}

// NormalizeName normalizes a patient name for consistent matching. Parts are
// sorted so component order does not matter.
func NormalizeName(name string) string {
	parts := NameParts(name)
	sort.Strings(parts)
	return strings.Join(parts, "")
}
