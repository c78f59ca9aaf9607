// Package mock provides a test double for transcribe.Transcriber.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
)

// Transcriber is a mock implementation of transcribe.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block, when non-nil, makes Transcribe wait until it is closed or ctx is
	// done. Use it to exercise cancellation and timeouts.
	Block chan struct{}

	// Clips records every clip passed to Transcribe.
	Clips []audio.Clip
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcribe records clip and returns Text or Err.
func (m *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	m.mu.Lock()
	m.Clips = append(m.Clips, clip)
	block, text, err := m.Block, m.Text, m.Err
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

// CallCount returns how many times Transcribe was called.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Clips)
}
