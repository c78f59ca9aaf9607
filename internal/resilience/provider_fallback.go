package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
)

// RecognizerFallback is an [stt.Provider] that opens the stream on the first
// healthy recognizer. Failover only covers StartStream; a stream that breaks
// later is handled by the caller's raw-capture fallback.
type RecognizerFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*RecognizerFallback)(nil)

// NewRecognizerFallback returns a group with primary as preferred recognizer.
func NewRecognizerFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	if cfg.Kind == "" {
		cfg.Kind = "recognizer"
	}
	return &RecognizerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognizer.
func (f *RecognizerFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Group exposes the underlying group for health reporting.
func (f *RecognizerFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// StartStream implements [stt.Provider].
func (f *RecognizerFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TranscriberFallback is a [transcribe.Transcriber] that tries each
// transcriber in order. A clip without speech ends the failover: another
// backend would not hear more.
type TranscriberFallback struct {
	group *FallbackGroup[transcribe.Transcriber]
}

var _ transcribe.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback returns a group with primary as preferred
// transcriber.
func NewTranscriberFallback(primary transcribe.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Kind == "" {
		cfg.Kind = "transcriber"
	}
	if cfg.Final == nil {
		cfg.Final = func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, stt.ErrNoSpeech)
		}
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcriber.
func (f *TranscriberFallback) AddFallback(name string, t transcribe.Transcriber) {
	f.group.AddFallback(name, t)
}

// Group exposes the underlying group for health reporting.
func (f *TranscriberFallback) Group() *FallbackGroup[transcribe.Transcriber] { return f.group }

// Transcribe implements [transcribe.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t transcribe.Transcriber) (string, error) {
		return t.Transcribe(ctx, clip)
	})
}
