package coach

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// recEvent is recognizer output tagged with the listener generation that
// produced it.
type recEvent struct {
	gen   uint64
	text  string
	final bool
	err   error
}

// listener owns one device lease and, unless it fell back to raw capture,
// one recognizer session.
type listener struct {
	gen   uint64
	lease *audio.Lease
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	handle   stt.SessionHandle
	fallback bool
	fbStart  int
	buf      []byte
	maxBuf   int
}

func (l *listener) inFallback() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fallback
}

// drain buffers chunks still queued on the released lease.
func (l *listener) drain() {
	chunks := l.lease.Chunks()
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return
			}
			l.capture(c)
		default:
			return
		}
	}
}

func (l *listener) capture(c []byte) {
	if room := l.maxBuf - len(l.buf); room > 0 {
		l.buf = append(l.buf, c[:min(room, len(c))]...)
	}
}

// startListening acquires the device and opens a recognizer stream. A
// recognizer that cannot be started puts the listener straight into
// fallback capture; a busy device is an error.
func (s *Session) startListening() error {
	if s.listen != nil {
		return nil
	}
	ctx := s.ctx()
	lease, err := s.dev.Acquire(ctx, s.owner)
	if err != nil {
		err = fmt.Errorf("coach: start listening: %w", err)
		s.log.Warn("could not acquire audio device", "err", err)
		s.emitError(err)
		return err
	}

	s.gen++
	f := lease.Format()
	l := &listener{
		gen:    s.gen,
		lease:  lease,
		stop:   make(chan struct{}),
		maxBuf: maxBytes(f, s.maxFallback.Seconds()),
	}
	s.listen = l

	var keywords []stt.KeywordBoost
	if s.boost > 0 {
		words := make([]string, 0, s.aligner.Len())
		for _, w := range s.passage.Words {
			words = append(words, w.Text)
		}
		keywords = stt.Keywords(words, s.boost)
	}
	h, err := s.rec.StartStream(ctx, stt.StreamConfig{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Language:   s.language,
		Keywords:   keywords,
	})
	if err != nil {
		s.enterFallback(fmt.Errorf("coach: start recognizer: %w", err))
	} else {
		l.handle = h
		l.wg.Add(1)
		go s.forward(l, h)
	}

	l.wg.Add(1)
	go s.pump(l)

	s.metrics.ListeningSessions.Add(ctx, 1)
	s.log.Debug("listening started", "gen", l.gen, "format", f.String(), "fallback", l.inFallback())
	return nil
}

func maxBytes(f audio.Format, seconds float64) int {
	return int(seconds * float64(f.SampleRate*f.Channels*2))
}

// pump moves captured chunks to the recognizer, or into the fallback buffer.
func (s *Session) pump(l *listener) {
	defer l.wg.Done()
	chunks := l.lease.Chunks()
	for {
		select {
		case <-l.stop:
			return
		case c, ok := <-chunks:
			if !ok {
				return
			}
			l.mu.Lock()
			if l.fallback {
				l.capture(c)
			}
			h := l.handle
			l.mu.Unlock()

			if h == nil {
				continue
			}
			if err := h.SendAudio(c); err != nil {
				s.deliver(l, recEvent{err: fmt.Errorf("coach: send audio: %w", err)})
			}
		}
	}
}

// forward relays recognizer output to the driver loop until the handle's
// channels close or the listener stops.
func (s *Session) forward(l *listener, h stt.SessionHandle) {
	defer l.wg.Done()
	partials, finals, errs := h.Partials(), h.Finals(), h.Errors()
	for partials != nil || finals != nil || errs != nil {
		select {
		case <-l.stop:
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.deliver(l, recEvent{text: t.Text})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.deliver(l, recEvent{text: t.Text, final: true})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.deliver(l, recEvent{err: err})
		}
	}
}

func (s *Session) deliver(l *listener, ev recEvent) {
	ev.gen = l.gen
	select {
	case s.recEvents <- ev:
	case <-l.stop:
	}
}

// enterFallback abandons the recognizer and keeps capturing raw audio from
// the current cursor.
func (s *Session) enterFallback(cause error) {
	l := s.listen
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.fallback {
		l.mu.Unlock()
		return
	}
	l.fallback = true
	l.fbStart = s.aligner.Cursor()
	h := l.handle
	l.handle = nil
	l.mu.Unlock()

	if h != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			_ = h.Close()
		}()
	}

	s.metrics.RecordFallback(s.ctx(), string(s.mode))
	s.log.Warn("recognizer failed, capturing raw audio", "pos", l.fbStart, "err", cause)
	s.emit(Event{Kind: EventFallback, Pos: l.fbStart, Err: cause})
	s.emitState()
}

// stopListening releases the device and the recognizer and waits for the
// listener goroutines. Audio buffered in fallback is published as a clip.
func (s *Session) stopListening() {
	l := s.listen
	if l == nil {
		return
	}
	s.listen = nil
	close(l.stop)
	if err := l.lease.Release(); err != nil {
		s.log.Debug("release audio device", "err", err)
	}

	l.mu.Lock()
	h := l.handle
	l.handle = nil
	l.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
	l.wg.Wait()
	if l.fallback {
		l.drain()
	}

	s.metrics.ListeningSessions.Add(s.ctx(), -1)
	s.log.Debug("listening stopped", "gen", l.gen)

	if len(l.buf) > 0 {
		var rest []recite.ExpectedWord
		if l.fbStart < len(s.passage.Words) {
			rest = slices.Clone(s.passage.Words[l.fbStart:])
		}
		s.emit(Event{
			Kind:     EventFallbackClip,
			Pos:      l.fbStart,
			Clip:     audio.Clip{Data: l.buf, Format: l.lease.Format(), Encoding: audio.EncodingPCM16},
			Expected: rest,
		})
	}
}
