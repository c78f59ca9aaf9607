// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock is safe for concurrent use. Tests queue audio with [Device.Emit]
// and inspect open/close counts afterwards:
//
//	dev := &mock.Device{DeviceFormat: audio.Format{SampleRate: 16000, Channels: 1}}
//	lease, _ := audio.NewExclusive(dev).Acquire(ctx, "exam")
//	dev.Emit([]byte{1, 2, 3, 4})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/tilawa/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format. Defaults to 16 kHz mono.
	DeviceFormat audio.Format

	// OpenError is returned by Open when non-nil.
	OpenError error

	// CloseError is returned by the stream's Close.
	CloseError error

	// OpenGate, when non-nil, makes Open wait until it is closed or the
	// context ends.
	OpenGate chan struct{}

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many streams were closed.
	CallCountClose int

	cur *stream
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.DeviceFormat.Valid() {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return d.DeviceFormat
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	d.mu.Lock()
	d.CallCountOpen++
	gate := d.OpenGate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.cur = &stream{d: d, ch: make(chan []byte, 256)}
	return d.cur, nil
}

// Emit delivers chunk to the open stream. It returns an error when no stream
// is open or the buffer is full.
func (d *Device) Emit(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		return errors.New("mock: no open stream")
	}
	select {
	case d.cur.ch <- chunk:
		return nil
	default:
		return errors.New("mock: stream buffer full")
	}
}

// Fail closes the open stream as if the device disappeared.
func (d *Device) Fail() {
	d.mu.Lock()
	s := d.cur
	d.mu.Unlock()
	if s != nil {
		s.shut(false)
	}
}

// Opens returns how many times Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// IsOpen reports whether a stream is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur != nil
}

type stream struct {
	d    *Device
	ch   chan []byte
	once sync.Once
}

func (s *stream) Chunks() <-chan []byte { return s.ch }

func (s *stream) Close() error {
	s.shut(true)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.d.CloseError
}

func (s *stream) shut(count bool) {
	s.once.Do(func() {
		s.d.mu.Lock()
		defer s.d.mu.Unlock()
		if count {
			s.d.CallCountClose++
		}
		if s.d.cur == s {
			s.d.cur = nil
		}
		close(s.ch)
	})
}
