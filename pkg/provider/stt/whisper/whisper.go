// Package whisper provides whisper.cpp-backed recognizers.
//
// Two backends are available. [Provider] talks to a running whisper-server
// binary over its REST API (POST /inference); [NativeProvider] loads a model
// in-process through the CGO bindings. Both simulate streaming by buffering
// incoming PCM, segmenting utterances with an energy-based silence detector,
// and submitting each completed utterance as a batch inference.
//
// whisper.cpp cannot emit true low-latency partials, so every committed
// utterance produces a partial and a final with the same text. Keyword hints
// are passed as the initial decoding prompt and may be replaced mid-session.
//
// [Transcriber] and [NativeTranscriber] expose the same backends as one-shot
// clip transcribers for exam mode.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithSilence(700*time.Millisecond))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM units)
	// below which a chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage     = "ar"
	defaultSampleRate   = 16000
	defaultSilence      = 500 * time.Millisecond
	defaultMaxUtterance = 10 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code. Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the default sample rate in Hz used when the stream
// config leaves it zero. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilence sets how much trailing silence commits an utterance. Defaults
// to 500ms.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) {
		p.seg.silence = d
	}
}

// WithMaxUtterance caps the audio buffered before a forced flush. Defaults
// to 10s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) {
		p.seg.maxUtterance = d
	}
}

// WithRMSThreshold sets the energy level separating speech from silence.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) {
		p.seg.rmsThreshold = rms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Each session keeps its own buffer and goroutine.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	seg        segmentation
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		seg:        defaultSegmentation(),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first utterance
// is committed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	f, lang := resolve(cfg, p.sampleRate, p.language)
	return startSession(ctx, p.infer, f, lang, cfg.Keywords, p.seg), nil
}

// resolve fills zero stream config fields with provider defaults.
func resolve(cfg stt.StreamConfig, sampleRate int, language string) (audio.Format, string) {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = sampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = language
	}
	return f, lang
}

// infer encodes the utterance as WAV and POSTs it to /inference as
// multipart/form-data.
func (p *Provider) infer(ctx context.Context, req request) (string, error) {
	return p.inferWAV(ctx, audio.EncodeWAV(req.PCM, req.Format), req.Language, req.Prompt)
}

func (p *Provider) inferWAV(ctx context.Context, wav []byte, language, prompt string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"language", language},
		{"model", p.model},
		{"prompt", prompt},
		{"response_format", "json"},
	}
	for _, fld := range fields {
		if fld.value == "" {
			continue
		}
		if err := mw.WriteField(fld.name, fld.value); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", fld.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
