package app

import (
	"context"
	"errors"

	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
)

// ErrNotConfigured is returned by the placeholder providers used when the
// configuration names no recognizer or transcriber.
var ErrNotConfigured = errors.New("app: provider not configured")

// Providers holds the provider instances built by main from the config
// registry. A nil Recognizer makes coaching sessions capture raw audio only;
// a nil Transcriber makes exams fail with [ErrNotConfigured]; a nil Audio
// gives every session its own [audio.Pipe] fed by the client.
type Providers struct {
	Recognizer  stt.Provider
	Transcriber transcribe.Transcriber
	Audio       audio.Device

	// Checkers report provider readiness on /readyz.
	Checkers []health.Checker
}

type unconfigured struct{}

var (
	_ stt.Provider           = unconfigured{}
	_ transcribe.Transcriber = unconfigured{}
)

func (unconfigured) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, ErrNotConfigured
}

func (unconfigured) Transcribe(context.Context, audio.Clip) (string, error) {
	return "", ErrNotConfigured
}
