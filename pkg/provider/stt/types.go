package stt

import "time"

// Transcript is a recognition result. Partial and final results share the
// type.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is true once the recognizer has committed to the result. Only
	// final results advance alignment.
	IsFinal bool

	// Confidence is the overall score in [0,1], or 0 when not reported.
	Confidence float64

	// Words holds per-word detail when the provider reports it.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration
}

// WordDetail holds per-word timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost raises the recognition probability of one word. Recitation
// sessions boost the words of the loaded passage.
type KeywordBoost struct {
	Keyword string

	// Boost is provider-specific; Deepgram accepts roughly -10..10.
	Boost float64
}
