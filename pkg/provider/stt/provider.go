// Package stt defines the Provider interface for continuous speech
// recognition backends.
//
// A provider wraps a streaming recognizer (Deepgram, a whisper.cpp server or
// an in-process whisper model) behind a uniform session: raw PCM goes in,
// low-latency partials and authoritative finals come out, and recognition
// failures are reported on a dedicated error channel. [ErrNoSpeech] marks the
// benign "nothing was said" condition; every other error means the
// recognizer can no longer be trusted for the session.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrNoSpeech is reported when a recognizer processed audio but heard no
	// speech. Callers treat it as silence.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrNotSupported is returned for optional features a provider lacks.
	ErrNotSupported = errors.New("stt: not supported")
)

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Zero selects the provider
	// default (16000).
	SampleRate int

	// Channels is the number of interleaved channels. Zero means mono.
	Channels int

	// Language is the BCP-47 language tag, "ar" for recitation.
	Language string

	// Keywords are vocabulary hints, typically the words of the passage.
	Keywords []KeywordBoost
}

// SessionHandle is an open recognition session.
//
// Callers must call Close when done. All methods must be safe for concurrent
// use.
type SessionHandle interface {
	// SendAudio delivers PCM16 audio in the agreed format. It returns an error
	// after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim results for display. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan Transcript

	// Errors emits recognition failures, including [ErrNoSpeech]. Closed when
	// the session ends. Sends never block; a full channel drops the error.
	Errors() <-chan error

	// SetKeywords replaces the keyword list mid-session. Providers that cannot
	// do so return an error wrapping [ErrNotSupported].
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio, closes the output channels and releases
	// resources. Repeated calls return nil.
	Close() error
}

// Provider is the abstraction over any continuous recognizer.
//
// Implementations must be safe for concurrent use; several sessions may be
// open at once.
type Provider interface {
	// StartStream opens a session ready to accept audio. It fails when the
	// backend cannot be reached or ctx is done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Keywords converts passage words into keyword boosts of the given strength,
// dropping duplicates while keeping first-seen order.
func Keywords(words []string, boost float64) []KeywordBoost {
	seen := make(map[string]bool, len(words))
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, KeywordBoost{Keyword: w, Boost: boost})
	}
	return out
}

// ReportError delivers err on ch without blocking.
func ReportError(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
