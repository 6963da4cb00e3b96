// Package slug builds URL path segments from headlines and titles.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength caps generated slugs; longer input is cut on a dash boundary.
const MaxLength = 80

// Make converts free text into a lowercase ASCII slug such as
// "fast-and-free-buses". Accents are folded ("Niño" -> "nino").
func Make(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case r == '\'' || r == '’':
			// apostrophes join words: "mayor's" -> "mayors"
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	s := strings.TrimRight(b.String(), "-")
	if len(s) > MaxLength {
		s = s[:MaxLength]
		if i := strings.LastIndexByte(s, '-'); i > MaxLength/2 {
			s = s[:i]
		}
		s = strings.TrimRight(s, "-")
	}
	return s
}

// Unique returns base, or base with the smallest numeric suffix ("-2",
// "-3", ...) for which taken reports false.
func Unique(base string, taken func(string) bool) string {
	if base == "" {
		base = "item"
	}
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !taken(candidate) {
			return candidate
		}
	}
}
