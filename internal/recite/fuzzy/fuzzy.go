// Package fuzzy compares recited words against expected words using a
// normalised Levenshtein similarity with length-tiered acceptance thresholds.
//
// Live recognition produces noisier partial tokens than a full transcription,
// so the two comparison modes accept at different thresholds:
//
//	normalised length   Streaming   Batch
//	≤ 3                 0.50        0.50
//	≤ 6                 0.70        0.65
//	> 6                 0.80        0.75
//
// The tier is chosen by the longer of the two normalised words.
package fuzzy

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/tilawa/internal/recite/textnorm"
)

// Mode selects a threshold table.
type Mode int

const (
	// Streaming is used for incremental recognizer output.
	Streaming Mode = iota
	// Batch is used when aligning a complete transcription.
	Batch
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Batch {
		return "batch"
	}
	return "streaming"
}

// Similarity returns 1 - lev(a', b') / max(len(a'), len(b')) where a' and b'
// are the normalised forms of a and b and lengths count runes. Two empty
// words are fully similar.
func Similarity(a, b string) float64 {
	return similarity(textnorm.Normalize(a), textnorm.Normalize(b))
}

func similarity(na, nb string) float64 {
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if longest == 0 {
		return 1
	}
	if na == nb {
		return 1
	}
	d := matchr.Levenshtein(na, nb)
	s := 1 - float64(d)/float64(longest)
	if s < 0 {
		return 0
	}
	return s
}

// Threshold returns the minimum similarity accepted for words whose longer
// normalised form has n runes.
func Threshold(n int, mode Mode) float64 {
	switch {
	case n <= 3:
		return 0.5
	case n <= 6:
		if mode == Batch {
			return 0.65
		}
		return 0.7
	default:
		if mode == Batch {
			return 0.75
		}
		return 0.8
	}
}

// WordsEqual reports whether spoken is close enough to expected. A word that
// normalises to nothing never matches.
func WordsEqual(expected, spoken string, mode Mode) bool {
	ok, _ := Compare(expected, spoken, mode)
	return ok
}

// Compare returns the acceptance decision together with the similarity.
func Compare(expected, spoken string, mode Mode) (bool, float64) {
	ne, ns := textnorm.Normalize(expected), textnorm.Normalize(spoken)
	if ne == "" || ns == "" {
		return false, 0
	}
	s := similarity(ne, ns)
	return s >= Threshold(longer(ne, ns), mode), s
}

func longer(a, b string) int {
	return max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
}
