// Package transcribe defines the Transcriber interface for one-shot
// transcription of a finished recording.
//
// Exam mode records a whole recitation without live feedback and hands the
// clip to a Transcriber once the student stops. Implementations return
// [stt.ErrNoSpeech] when the clip holds nothing intelligible.
package transcribe

import (
	"context"

	"github.com/MrWong99/tilawa/pkg/audio"
)

// Transcriber converts a recorded clip into text.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	// Transcribe returns the recognized text of clip. It honours ctx
	// cancellation and deadlines.
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// Func adapts a plain function to the Transcriber interface.
type Func func(ctx context.Context, clip audio.Clip) (string, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return f(ctx, clip)
}
