// Package stream aligns recognised words against a passage as they arrive.
//
// The [Aligner] owns the cursor into the expected word sequence, the verdict
// of every position and the set of positions already judged. Each final
// spoken word is matched against a short forward window starting at the
// cursor. A match further ahead marks the words in between as skipped. No
// match judges the word at the cursor directly. Either way the cursor moves
// forward, so verdicts are emitted in position order until an explicit
// [Aligner.Jump].
//
// An Aligner is not safe for concurrent use; the coach session drives it from
// a single goroutine.
package stream

import (
	"fmt"
	"slices"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/fuzzy"
)

const defaultWindow = 4

// Skipped is the spoken text recorded for positions passed over by a forward
// match.
const Skipped = "(skipped)"

// Update is a verdict change for one position. A Verdict of
// [recite.Unprocessed] means the previous verdict was cleared.
type Update struct {
	Pos     int
	Word    recite.ExpectedWord
	Verdict recite.Verdict
	Spoken  string
}

// Option configures an [Aligner].
type Option func(*Aligner)

// WithWindow sets how many expected words, starting at the cursor, are
// searched for a match. Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(a *Aligner) {
		if n > 0 {
			a.window = n
		}
	}
}

// Aligner is the incremental word aligner.
type Aligner struct {
	words     []recite.ExpectedWord
	window    int
	cursor    int
	verdicts  map[int]recite.Verdict
	processed map[int]bool
}

// New returns an Aligner over words with the cursor at 0.
func New(words []recite.ExpectedWord, opts ...Option) *Aligner {
	a := &Aligner{window: defaultWindow}
	for _, o := range opts {
		o(a)
	}
	a.Load(words)
	return a
}

// Load replaces the expected words and resets all state.
func (a *Aligner) Load(words []recite.ExpectedWord) {
	a.words = slices.Clone(words)
	a.Reset()
}

// Reset clears every verdict and moves the cursor to 0.
func (a *Aligner) Reset() {
	a.cursor = 0
	a.verdicts = make(map[int]recite.Verdict)
	a.processed = make(map[int]bool)
}

// Start begins a new pass at pos: every verdict is dropped, the cursor moves
// to pos and pos is highlighted. The returned slice holds that highlight.
func (a *Aligner) Start(pos int) ([]Update, error) {
	if len(a.words) == 0 {
		return nil, fmt.Errorf("stream: start at %d: no expected words loaded", pos)
	}
	if pos < 0 || pos >= len(a.words) {
		return nil, fmt.Errorf("stream: start at %d: position out of range [0,%d)", pos, len(a.words))
	}
	a.Reset()
	a.cursor = pos
	u, _ := a.Highlight()
	return []Update{u}, nil
}

// Len returns the number of expected words.
func (a *Aligner) Len() int { return len(a.words) }

// Cursor returns the position of the next expected word.
func (a *Aligner) Cursor() int { return a.cursor }

// Done reports whether the cursor has passed the last word.
func (a *Aligner) Done() bool { return a.cursor >= len(a.words) }

// Processed returns how many positions currently hold a Correct or Wrong
// verdict.
func (a *Aligner) Processed() int { return len(a.processed) }

// Word returns the expected word at pos.
func (a *Aligner) Word(pos int) (recite.ExpectedWord, bool) {
	if pos < 0 || pos >= len(a.words) {
		return recite.ExpectedWord{}, false
	}
	return a.words[pos], true
}

// Verdict returns the verdict of pos.
func (a *Aligner) Verdict(pos int) recite.Verdict {
	return a.verdicts[pos]
}

// Verdicts returns a copy of every non-Unprocessed verdict.
func (a *Aligner) Verdicts() map[int]recite.Verdict {
	out := make(map[int]recite.Verdict, len(a.verdicts))
	for p, v := range a.verdicts {
		out[p] = v
	}
	return out
}

// Highlight marks the cursor as Current and returns the update, or false when
// the cursor is past the end.
func (a *Aligner) Highlight() (Update, bool) {
	if a.Done() {
		return Update{}, false
	}
	a.verdicts[a.cursor] = recite.Current
	return Update{Pos: a.cursor, Word: a.words[a.cursor], Verdict: recite.Current}, true
}

// FeedText splits a final transcript into words and feeds them in order.
func (a *Aligner) FeedText(text string) []Update {
	var ups []Update
	for _, w := range recite.Words(text) {
		ups = append(ups, a.Feed(w)...)
	}
	return ups
}

// Feed consumes one final spoken word and returns the resulting verdict
// changes, ending with the new Current highlight when words remain. Words
// arriving after the end are ignored.
func (a *Aligner) Feed(spoken string) []Update {
	if a.Done() {
		return nil
	}

	var ups []Update
	match := -1
	for p := a.cursor; p < len(a.words) && p < a.cursor+a.window; p++ {
		if fuzzy.WordsEqual(a.words[p].Text, spoken, fuzzy.Streaming) {
			match = p
			break
		}
	}

	if match >= 0 {
		for p := a.cursor; p < match; p++ {
			if u, ok := a.judge(p, recite.Wrong, Skipped); ok {
				ups = append(ups, u)
			}
		}
		if u, ok := a.judge(match, recite.Correct, spoken); ok {
			ups = append(ups, u)
		}
		a.cursor = match + 1
	} else {
		v := recite.Wrong
		if fuzzy.WordsEqual(a.words[a.cursor].Text, spoken, fuzzy.Streaming) {
			v = recite.Correct
		}
		if u, ok := a.judge(a.cursor, v, spoken); ok {
			ups = append(ups, u)
		}
		a.cursor++
	}

	if u, ok := a.Highlight(); ok {
		ups = append(ups, u)
	}
	return ups
}

func (a *Aligner) judge(pos int, v recite.Verdict, spoken string) (Update, bool) {
	if a.processed[pos] {
		return Update{}, false
	}
	a.processed[pos] = true
	a.verdicts[pos] = v
	return Update{Pos: pos, Word: a.words[pos], Verdict: v, Spoken: spoken}, true
}

// Jump moves the cursor to x. Verdicts after x are cleared, x is re-opened
// and marked Current. The returned updates list the cleared positions in
// ascending order followed by the new highlight.
func (a *Aligner) Jump(x int) ([]Update, error) {
	if len(a.words) == 0 {
		return nil, fmt.Errorf("stream: jump to %d: no expected words loaded", x)
	}
	if x < 0 || x >= len(a.words) {
		return nil, fmt.Errorf("stream: jump to %d: position out of range [0,%d)", x, len(a.words))
	}

	var cleared []int
	for p, v := range a.verdicts {
		if p > x || (p < x && v == recite.Current) {
			cleared = append(cleared, p)
		}
	}
	slices.Sort(cleared)

	ups := make([]Update, 0, len(cleared)+1)
	for _, p := range cleared {
		delete(a.verdicts, p)
		delete(a.processed, p)
		ups = append(ups, Update{Pos: p, Word: a.words[p], Verdict: recite.Unprocessed})
	}
	delete(a.processed, x)

	a.cursor = x
	u, _ := a.Highlight()
	return append(ups, u), nil
}
