package whisper

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
)

var (
	_ transcribe.Transcriber = (*Transcriber)(nil)
	_ transcribe.Transcriber = (*NativeTranscriber)(nil)
)

// Transcriber transcribes whole clips through a whisper.cpp server.
type Transcriber struct {
	p *Provider
}

// NewTranscriber returns a clip transcriber for the server at serverURL.
// Segmentation options are ignored.
func NewTranscriber(serverURL string, opts ...Option) (*Transcriber, error) {
	p, err := New(serverURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Transcriber{p: p}, nil
}

// Transcribe uploads clip as WAV and returns the recognized text. A clip
// without speech yields stt.ErrNoSpeech.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Empty() {
		return "", stt.ErrNoSpeech
	}
	wav := clip.WAV()
	text, err := t.p.inferWAV(ctx, wav.Data, t.p.language, "")
	if err != nil {
		return "", err
	}
	return nonEmpty(text)
}

// NativeTranscriber transcribes whole clips with an in-process model.
type NativeTranscriber struct {
	p *NativeProvider
}

// NewNativeTranscriber wraps a loaded NativeProvider. Closing the provider
// invalidates the transcriber.
func NewNativeTranscriber(p *NativeProvider) *NativeTranscriber {
	return &NativeTranscriber{p: p}
}

// Transcribe decodes clip and runs one inference over it.
func (t *NativeTranscriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Empty() {
		return "", stt.ErrNoSpeech
	}
	pcm, err := clip.PCM()
	if err != nil {
		return "", fmt.Errorf("whisper: decode clip: %w", err)
	}
	text, err := t.p.infer(ctx, request{PCM: pcm, Format: clip.Format, Language: t.p.language})
	if err != nil {
		return "", err
	}
	return nonEmpty(text)
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}
