// Package batch scores a complete transcription against the expected text of
// a passage.
//
// Alignment is greedy, single pass and never backtracks. For each expected
// word the next few spoken words (the lookahead window, four by default) are
// scored and the most similar one is taken, earliest first on ties. A match at
// or above the batch threshold is Correct when the similarity reaches 0.9 and
// Wrong otherwise, and consumes the spoken word. Below the threshold the
// expected word is Missing and no spoken word is consumed.
package batch

import (
	"math"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/fuzzy"
	"github.com/MrWong99/tilawa/internal/recite/makharij"
)

const (
	defaultWindow = 4

	// correctSimilarity is the similarity from which an accepted match counts
	// as correct rather than a near miss.
	correctSimilarity = 0.9
)

// Option configures an [Aligner].
type Option func(*Aligner)

// WithWindow sets the spoken-word lookahead. Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(a *Aligner) {
		if n > 0 {
			a.window = n
		}
	}
}

// Aligner performs batch alignments. It is read-only after construction and
// safe for concurrent use.
type Aligner struct {
	window int
}

// New returns an [Aligner] configured with opts.
func New(opts ...Option) *Aligner {
	a := &Aligner{window: defaultWindow}
	for _, o := range opts {
		o(a)
	}
	return a
}

var std = New()

// Align aligns spoken against expected with the default window.
func Align(expected, spoken string) []recite.WordDiff {
	return std.Align(expected, spoken)
}

// Analyze aligns and scores spoken against expected with the default window.
func Analyze(expected, spoken string) recite.ExamResult {
	return std.Analyze(expected, spoken)
}

// Align returns one [recite.WordDiff] per expected word, in order.
func (a *Aligner) Align(expected, spoken string) []recite.WordDiff {
	return a.AlignWords(recite.Words(expected), recite.Words(spoken))
}

// AlignWords is Align over pre-split word lists.
func (a *Aligner) AlignWords(expected, spoken []string) []recite.WordDiff {
	diffs := make([]recite.WordDiff, 0, len(expected))
	s := 0
	for _, want := range expected {
		best, bestSim, bestOK := -1, -1.0, false
		for j := s; j < len(spoken) && j < s+a.window; j++ {
			ok, sim := fuzzy.Compare(want, spoken[j], fuzzy.Batch)
			if sim > bestSim {
				best, bestSim, bestOK = j, sim, ok
			}
		}
		if best < 0 || !bestOK {
			diffs = append(diffs, recite.WordDiff{Expected: want, State: recite.StateMissing})
			continue
		}
		said := spoken[best]
		state := recite.StateWrong
		if bestSim >= correctSimilarity {
			state = recite.StateCorrect
		}
		diffs = append(diffs, recite.WordDiff{Expected: want, Spoken: &said, State: state})
		s = best + 1
	}
	return diffs
}

// Analyze builds the exam result for a transcription: word diffs, letter
// confusion alerts over the wrong words, totals and the rounded accuracy.
func (a *Aligner) Analyze(expected, spoken string) recite.ExamResult {
	diffs := a.Align(expected, spoken)

	var det makharij.Detector
	correct := 0
	for _, d := range diffs {
		switch d.State {
		case recite.StateCorrect:
			correct++
		case recite.StateWrong:
			det.Observe(d.Expected, *d.Spoken)
		}
	}

	return recite.ExamResult{
		Accuracy:         Accuracy(correct, len(diffs)),
		Words:            diffs,
		Alerts:           det.Alerts(),
		RawTranscription: spoken,
		TotalExpected:    len(diffs),
		TotalCorrect:     correct,
	}
}

// Accuracy returns round(100*correct/total), or 0 when total is 0.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}
