package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const pipeBuffer = 128

var _ Device = (*Pipe)(nil)

// Pipe is a [Device] whose audio is pushed by the caller, typically a
// network connection relaying a remote microphone. Pushed audio is converted
// to the pipe format; chunks pushed while no stream is open are discarded.
type Pipe struct {
	format Format

	mu     sync.Mutex
	source Format
	conv   *FormatConverter
	cur    *pipeStream

	dropped atomic.Int64
}

// NewPipe returns a pipe delivering audio in f. The source format defaults to
// f until [Pipe.SetSource] is called.
func NewPipe(f Format) *Pipe {
	return &Pipe{format: f, source: f, conv: &FormatConverter{Target: f}}
}

// Format implements [Device].
func (p *Pipe) Format() Format { return p.format }

// SetSource declares the format of subsequently pushed audio.
func (p *Pipe) SetSource(f Format) error {
	if !f.Valid() {
		return errors.New("audio: invalid source format")
	}
	p.mu.Lock()
	p.source = f
	p.mu.Unlock()
	return nil
}

// Dropped returns how many chunks were discarded because the open stream was
// not drained fast enough.
func (p *Pipe) Dropped() int64 { return p.dropped.Load() }

// Open implements [Device]. Only one stream may be open at a time.
func (p *Pipe) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return nil, errors.New("audio: pipe already open")
	}
	p.cur = &pipeStream{p: p, ch: make(chan []byte, pipeBuffer)}
	return p.cur, nil
}

// Push delivers one chunk of PCM16 audio in the source format. It never
// blocks.
func (p *Pipe) Push(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || len(pcm) == 0 {
		return
	}
	f := p.conv.Convert(AudioFrame{Data: pcm, SampleRate: p.source.SampleRate, Channels: p.source.Channels})
	if len(f.Data) == 0 {
		return
	}
	select {
	case p.cur.ch <- f.Data:
	default:
		p.dropped.Add(1)
	}
}

type pipeStream struct {
	p    *Pipe
	ch   chan []byte
	once sync.Once
}

func (s *pipeStream) Chunks() <-chan []byte { return s.ch }

func (s *pipeStream) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		if s.p.cur == s {
			s.p.cur = nil
		}
		close(s.ch)
		s.p.mu.Unlock()
	})
	return nil
}
