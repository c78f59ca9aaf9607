// Package audio defines raw audio capture for the recitation engine.
//
// The primary abstractions are:
//
//   - [Device]: an input that can be opened into a [Stream] of PCM16 chunks.
//     Implementations include the local microphone (audio/malgo) and [Pipe],
//     which is fed by a remote client.
//   - [Exclusive]: single ownership of a Device. Whoever holds the [Lease]
//     owns the input; a second acquirer fails fast with [ErrDeviceBusy].
//   - [Recorder]: accumulates a lease's chunks into one [Clip] with a
//     one-second duration counter.
//
// This package lives under pkg/ so that other capture backends can implement
// [Device] outside this module.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDeviceBusy is returned by [Exclusive.Acquire] while another owner holds
// the device.
var ErrDeviceBusy = errors.New("audio: device busy")

// Stream is an open capture. Chunks is closed when the stream ends, either
// through Close or because the device failed.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device is an audio input.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open starts capturing. The returned stream delivers PCM16 chunks in
	// Format. Open fails when the device cannot be started or ctx is done.
	Open(ctx context.Context) (Stream, error)

	// Format returns the PCM format of opened streams.
	Format() Format
}

// Exclusive serialises ownership of a Device.
type Exclusive struct {
	dev Device

	mu     sync.Mutex
	holder string
}

// NewExclusive wraps dev.
func NewExclusive(dev Device) *Exclusive {
	return &Exclusive{dev: dev}
}

// Format returns the wrapped device format.
func (e *Exclusive) Format() Format { return e.dev.Format() }

// Holder returns the owner name of the current lease, or "".
func (e *Exclusive) Holder() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holder
}

// Acquire opens the device for owner. It never waits for another owner.
func (e *Exclusive) Acquire(ctx context.Context, owner string) (*Lease, error) {
	if owner == "" {
		owner = "anonymous"
	}
	e.mu.Lock()
	if e.holder != "" {
		held := e.holder
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: held by %s", ErrDeviceBusy, held)
	}
	e.holder = owner
	e.mu.Unlock()

	s, err := e.dev.Open(ctx)
	if err != nil {
		e.release()
		return nil, fmt.Errorf("audio: open device: %w", err)
	}
	return &Lease{e: e, stream: s, format: e.dev.Format()}, nil
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.holder = ""
	e.mu.Unlock()
}

// Lease is exclusive ownership of an open device stream.
type Lease struct {
	e      *Exclusive
	stream Stream
	format Format
	once   sync.Once
	err    error
}

// Chunks returns the captured PCM chunks.
func (l *Lease) Chunks() <-chan []byte { return l.stream.Chunks() }

// Format returns the PCM format of the chunks.
func (l *Lease) Format() Format { return l.format }

// Release stops capture and frees the device. It returns after the device
// is free; repeated calls return the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.stream.Close()
		l.e.release()
	})
	return l.err
}
