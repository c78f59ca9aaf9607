package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// modelSampleRate is the rate whisper models are trained on.
const modelSampleRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider with the whisper.cpp CGO bindings.
// The model is loaded once and shared; every inference gets its own context.
//
// libwhisper.a and whisper.h must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	sampleRate int
	seg        segmentation
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "ar".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the default sample rate in Hz.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilence sets how much trailing silence commits an utterance.
func WithNativeSilence(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.seg.silence = d }
}

// WithNativeMaxUtterance caps the audio buffered before a forced flush.
func WithNativeMaxUtterance(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.seg.maxUtterance = d }
}

// NewNative loads the model at modelPath. Callers must Close the provider.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:      model,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		seg:        defaultSegmentation(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a session. Sessions may run concurrently.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	f, lang := resolve(cfg, p.sampleRate, p.language)
	return startSession(ctx, p.infer, f, lang, cfg.Keywords, p.seg), nil
}

// infer resamples the utterance to the model rate, runs it through a fresh
// context and joins the segments.
func (p *NativeProvider) infer(ctx context.Context, req request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm := audio.Downmix(req.PCM, req.Format.Channels)
	if req.Format.SampleRate != modelSampleRate {
		pcm = audio.ResampleMono16(pcm, req.Format.SampleRate, modelSampleRate)
	}
	samples := audio.PCMToFloat32Mono(pcm, 1)

	// Contexts are not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(req.Language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", req.Language, "error", err)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
