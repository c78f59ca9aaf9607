// Package textnorm canonicalises Arabic reference and recognised text into a
// form where phonetically equivalent spellings compare equal.
//
// Normalisation runs as a single x/text transform chain:
//
//  1. Compatibility decomposition (NFKD). Presentation forms and ligatures
//     fold onto their base letters, and letters carrying hamza or madda split
//     into a base letter plus a combining mark.
//  2. Letter-variant folding (alef wasla to alef, alef maqsura to ya, ta
//     marbuta to ha) and mapping of punctuation, symbols and digits to spaces.
//  3. Removal of all combining marks (harakat, tanween, shadda, sukun,
//     Quranic annotation signs), the tatweel and invisible format characters.
//  4. Canonical recomposition (NFC).
//
// Whitespace is collapsed and trimmed last. The result is idempotent.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	alef        = 'ا'
	alefWasla   = 'ٱ'
	alefMaqsura = 'ى'
	ya          = 'ي'
	taMarbuta   = 'ة'
	ha          = 'ه'
	tatweel     = 'ـ'
)

// Normalize returns the canonical form of s. Empty or undecodable input
// yields "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain keeps per-call state, so it is never shared.
	t := transform.Chain(
		norm.NFKD,
		runes.Map(fold),
		runes.Remove(runes.Predicate(drop)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(out), " ")
}

// Equal reports whether a and b normalise to the same string.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

func fold(r rune) rune {
	switch r {
	case alefWasla:
		return alef
	case alefMaqsura:
		return ya
	case taMarbuta:
		return ha
	}
	switch {
	case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsDigit(r):
		return ' '
	case unicode.IsSpace(r):
		return ' '
	}
	return unicode.ToLower(r)
}

func drop(r rune) bool {
	if r == tatweel || r == unicode.ReplacementChar {
		return true
	}
	return unicode.In(r, unicode.Mn, unicode.Me, unicode.Mc, unicode.Cf, unicode.Cc)
}
