// Package malgo captures audio from the local default input device through
// miniaudio (github.com/gen2brain/malgo).
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/tilawa/pkg/audio"
)

const (
	defaultSampleRate   = 16000
	defaultChannels     = 1
	defaultPeriodFrames = 1600 // 100 ms at 16 kHz
	chunkBuffer         = 64
)

var _ audio.Device = (*Device)(nil)

// Option configures a [Device].
type Option func(*Device)

// WithFormat sets the capture format.
func WithFormat(f audio.Format) Option {
	return func(d *Device) {
		if f.Valid() {
			d.format = f
		}
	}
}

// WithPeriodFrames sets the number of frames delivered per callback.
func WithPeriodFrames(n uint32) Option {
	return func(d *Device) {
		if n > 0 {
			d.period = n
		}
	}
}

// Device is the default capture device of the host.
type Device struct {
	format audio.Format
	period uint32
}

// New returns a capture device. Nothing is opened until [Device.Open].
func New(opts ...Option) *Device {
	d := &Device{
		format: audio.Format{SampleRate: defaultSampleRate, Channels: defaultChannels},
		period: defaultPeriodFrames,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Open initialises a miniaudio context and starts capturing. Closing the
// returned stream stops the device and frees the context.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &stream{mctx: mctx, ch: make(chan []byte, chunkBuffer)}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)
	cfg.PeriodSizeInFrames = d.period

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.deliver(in)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("malgo: start device: %w", err)
	}
	slog.Debug("malgo: capture started", "format", d.format)
	return s, nil
}

type stream struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped int
	once    sync.Once
	err     error
}

func (s *stream) Chunks() <-chan []byte { return s.ch }

func (s *stream) deliver(in []byte) {
	data := make([]byte, len(in))
	copy(data, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- data:
	default:
		s.dropped++
	}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		if err := s.dev.Stop(); err != nil {
			s.err = fmt.Errorf("malgo: stop device: %w", err)
		}
		s.dev.Uninit()
		s.freeContext()

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		dropped := s.dropped
		s.mu.Unlock()
		if dropped > 0 {
			slog.Warn("malgo: capture buffer overflowed", "dropped_chunks", dropped)
		}
	})
	return s.err
}

func (s *stream) freeContext() {
	if err := s.mctx.Uninit(); err != nil {
		slog.Warn("malgo: uninit context", "err", err)
	}
	s.mctx.Free()
}
