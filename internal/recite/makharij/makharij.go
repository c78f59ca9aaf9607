// Package makharij detects confusions between Arabic letters that share or
// neighbour a point of articulation (makhraj).
//
// A [Detector] is fed pairs of expected and spoken words that were judged
// wrong. Both words are normalised and compared position by position up to the
// shorter length; every differing letter pair that appears in the fixed
// confusion table increments a counter keyed by the unordered pair. Lookups
// are exact set membership.
package makharij

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/textnorm"
)

// Pair is an unordered pair of letters. Use [MakePair] to construct one.
type Pair struct {
	a, b rune
}

// MakePair returns the canonical unordered pair of x and y.
func MakePair(x, y rune) Pair {
	if x > y {
		x, y = y, x
	}
	return Pair{a: x, b: y}
}

var tips = map[Pair]string{
	MakePair('ذ', 'ز'): "ذ is interdental: let the tongue tip touch the upper front teeth. ز is a whistling letter from behind the lower teeth.",
	MakePair('ذ', 'ظ'): "ذ is light; ظ is heavy with the back of the tongue raised (isti'la). Both are interdental.",
	MakePair('ز', 'ظ'): "ظ is interdental and heavy; ز is whistled with the tongue tip behind the lower teeth.",
	MakePair('ث', 'س'): "ث is interdental with the tongue tip between the teeth; س is whistled behind the lower teeth.",
	MakePair('ث', 'ت'): "ث lets air flow softly between the teeth; ت is a stop from the tongue tip on the upper gum.",
	MakePair('س', 'ص'): "ص is heavy: raise the back of the tongue (itbaq). س stays light.",
	MakePair('ت', 'ط'): "ط is heavy with the tongue pressed to the palate (itbaq); ت is light and whispered.",
	MakePair('د', 'ض'): "ض comes from the side of the tongue against the molars and is heavy; د is a light stop from the tongue tip.",
	MakePair('ض', 'ظ'): "ض comes from the edge of the tongue against the molars; ظ is interdental.",
	MakePair('ق', 'ك'): "ق comes from the deepest part of the tongue against the soft palate and is heavy; ك is further forward and light.",
	MakePair('ح', 'ه'): "ح comes from the middle of the throat with friction; ه is a breathy sound from the deepest part of the throat.",
	MakePair('ح', 'خ'): "خ comes from the top of the throat with a rasp and is heavy; ح is a smooth middle-throat sound.",
	MakePair('خ', 'غ'): "غ is voiced; خ is voiceless. Both come from the top of the throat.",
	MakePair('ع', 'ا'): "ع is a voiced constriction in the middle of the throat; do not reduce it to a plain vowel.",
	MakePair('ع', 'ء'): "ع is from the middle of the throat; the hamza ء is a clean stop from the deepest part of the throat.",
	MakePair('غ', 'ق'): "ق is a full stop at the soft palate; غ lets air continue with friction.",
}

// Tip returns the correction tip for the unordered pair (x, y).
func Tip(x, y rune) (string, bool) {
	t, ok := tips[MakePair(x, y)]
	return t, ok
}

// Confusable reports whether x and y form a pair of the confusion table.
func Confusable(x, y rune) bool {
	_, ok := tips[MakePair(x, y)]
	return ok
}

// Pairs returns every pair of the confusion table.
func Pairs() []Pair {
	out := make([]Pair, 0, len(tips))
	for p := range tips {
		out = append(out, p)
	}
	slices.SortFunc(out, func(x, y Pair) int {
		if c := cmp.Compare(x.a, y.a); c != 0 {
			return c
		}
		return cmp.Compare(x.b, y.b)
	})
	return out
}

// Letters returns both letters of p in code point order.
func (p Pair) Letters() (rune, rune) { return p.a, p.b }

type counter struct {
	expected, spoken rune
	count            int
	seq              int
}

// Detector accumulates letter confusions over a batch comparison. The zero
// value is ready to use. A Detector is not safe for concurrent use.
type Detector struct {
	counts map[Pair]*counter
}

// Observe compares one wrong-classified word pair and records every
// confusable letter substitution. It returns the number of confusions found.
func (d *Detector) Observe(expected, spoken string) int {
	ne, ns := textnorm.Normalize(expected), textnorm.Normalize(spoken)
	if d.counts == nil {
		d.counts = make(map[Pair]*counter)
	}
	found := 0
	for ne != "" && ns != "" {
		er, en := utf8.DecodeRuneInString(ne)
		sr, sn := utf8.DecodeRuneInString(ns)
		ne, ns = ne[en:], ns[sn:]
		if er == sr || !Confusable(er, sr) {
			continue
		}
		p := MakePair(er, sr)
		c, ok := d.counts[p]
		if !ok {
			c = &counter{expected: er, spoken: sr, seq: len(d.counts)}
			d.counts[p] = c
		}
		c.count++
		found++
	}
	return found
}

// Count returns how often the unordered pair (x, y) has been observed.
func (d *Detector) Count(x, y rune) int {
	if c, ok := d.counts[MakePair(x, y)]; ok {
		return c.count
	}
	return 0
}

// Alerts projects the accumulated counters into alerts ordered by count,
// highest first, then by first occurrence. Letter orientation follows the
// first observation of each pair.
func (d *Detector) Alerts() []recite.MakharijAlert {
	cs := make([]*counter, 0, len(d.counts))
	for _, c := range d.counts {
		cs = append(cs, c)
	}
	slices.SortFunc(cs, func(x, y *counter) int {
		if c := cmp.Compare(y.count, x.count); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	alerts := make([]recite.MakharijAlert, 0, len(cs))
	for _, c := range cs {
		tip, _ := Tip(c.expected, c.spoken)
		alerts = append(alerts, recite.MakharijAlert{
			SpokenLetter:   string(c.spoken),
			ExpectedLetter: string(c.expected),
			Count:          c.count,
			Tip:            tip,
		})
	}
	return alerts
}

// Reset discards all counters.
func (d *Detector) Reset() {
	clear(d.counts)
}
