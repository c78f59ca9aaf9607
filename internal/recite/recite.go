// Package recite holds the data model shared by the recitation verification
// engine: the expected word sequence of a passage, per-word verdicts, recorded
// mistakes and the immutable result of a scored exam.
//
// The algorithms live in sub-packages:
//
//   - textnorm: canonical text form.
//   - fuzzy: edit-distance similarity and length-tiered acceptance.
//   - stream: incremental alignment of recognised words against a passage.
//   - batch: one-shot alignment of a full transcription.
//   - makharij: letter-confusion diagnostics.
package recite

import (
	"strings"
	"unicode"

	"github.com/MrWong99/tilawa/internal/recite/textnorm"
)

// ExpectedWord is one word of the reference text, tagged with its position
// inside the passage.
type ExpectedWord struct {
	// Text is the word as written in the reference script, diacritics included.
	Text string `json:"text"`

	// AyahIndex is the zero-based verse index within the passage.
	AyahIndex int `json:"ayah"`

	// WordIndex is the zero-based word index within its verse.
	WordIndex int `json:"word"`
}

// Key returns the mistake key of the word.
func (w ExpectedWord) Key() Key {
	return Key{Ayah: w.AyahIndex, Word: w.WordIndex}
}

// Key identifies a word by verse and in-verse position.
type Key struct {
	Ayah int `json:"ayah"`
	Word int `json:"word"`
}

// Verdict is the judgement for one position of the expected sequence.
type Verdict int

const (
	// Unprocessed means nothing has been said for the position yet.
	Unprocessed Verdict = iota
	// Current marks the position the reciter is expected to say next.
	Current
	// Correct means the spoken word matched.
	Correct
	// Wrong means the spoken word did not match or the position was skipped.
	Wrong
)

// String returns the lower-case name of v.
func (v Verdict) String() string {
	switch v {
	case Current:
		return "current"
	case Correct:
		return "correct"
	case Wrong:
		return "wrong"
	default:
		return "unprocessed"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Mistake records what was said instead of an expected word.
type Mistake struct {
	Expected string `json:"expected"`
	Spoken   string `json:"spoken"`
}

// WordState classifies an expected word after batch alignment.
type WordState string

const (
	StateCorrect WordState = "correct"
	StateWrong   WordState = "wrong"
	StateMissing WordState = "missing"
)

// WordDiff is the batch alignment outcome for one expected word. Spoken is
// nil when the word is missing.
type WordDiff struct {
	Expected string    `json:"expected"`
	Spoken   *string   `json:"spoken,omitempty"`
	State    WordState `json:"state"`
}

// MakharijAlert summarises how often a pair of confusable letters was mixed
// up during an exam.
type MakharijAlert struct {
	SpokenLetter   string `json:"spoken_letter"`
	ExpectedLetter string `json:"expected_letter"`
	Count          int    `json:"count"`
	Tip            string `json:"tip"`
}

// ExamResult is the immutable outcome of one analysed exam recording.
type ExamResult struct {
	Accuracy         int             `json:"accuracy"`
	Words            []WordDiff      `json:"words"`
	Alerts           []MakharijAlert `json:"alerts"`
	RawTranscription string          `json:"raw_transcription"`
	TotalExpected    int             `json:"total_expected"`
	TotalCorrect     int             `json:"total_correct"`
}

// Count returns how many words of r are in state s.
func (r ExamResult) Count(s WordState) int {
	n := 0
	for _, w := range r.Words {
		if w.State == s {
			n++
		}
	}
	return n
}

// Words splits text into words on whitespace and punctuation. Tokens that
// normalise to nothing, such as verse-number ornaments or stray marks, are
// dropped. The original spelling of every kept token is preserved, except for
// ligatures that expand to a phrase (ﷺ, ﷽): those contribute one word per
// normalised word of the expansion.
func Words(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		n := textnorm.Normalize(f)
		switch {
		case n == "":
		case strings.ContainsRune(n, ' '):
			out = append(out, strings.Fields(n)...)
		default:
			out = append(out, f)
		}
	}
	return out
}

// Texts returns the reference spelling of each word.
func Texts(words []ExpectedWord) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Text
	}
	return out
}

// BuildExpected converts the verses of a passage into the ordered expected
// word sequence. The result is never mutated by the engine.
func BuildExpected(ayahs []string) []ExpectedWord {
	var words []ExpectedWord
	for ai, ayah := range ayahs {
		for wi, w := range Words(ayah) {
			words = append(words, ExpectedWord{Text: w, AyahIndex: ai, WordIndex: wi})
		}
	}
	return words
}
