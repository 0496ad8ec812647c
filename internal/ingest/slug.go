package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics so "José Aldo" and "jose aldo" compare equal.
func Fold(s string) string {
	// Chained transformers carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Slug turns a display name into a stable ascii key: "Pull-ups!" -> "pull-ups".
func Slug(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NaturalKey is the case- and accent-insensitive identity of a named entity within a sport.
func NaturalKey(name, sport string) string {
	return Slug(name) + "|" + NormalizeSport(sport)
}

// DisplayName title-cases an identifier such as "muay_thai" into "Muay Thai".
func DisplayName(id string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(id))
	return cases.Title(language.English).String(strings.Join(words, " "))
}
