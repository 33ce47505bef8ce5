// Package slug derives deterministic file-name-safe slugs from titles.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes characters and drops combining marks, so "café"
// slugs to "cafe".
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Make converts s into a lowercase ASCII slug. Runs of non-alphanumeric
// characters collapse into single dashes. Titles with no representable
// characters (e.g. fully CJK) yield "" and the caller falls back to an
// identity-derived name.
func Make(s string) string {
	normalized, _, err := transform.String(stripMarks, s)
	if err != nil {
		normalized = s
	}
	normalized = strings.ToLower(normalized)

	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
