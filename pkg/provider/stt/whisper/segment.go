package whisper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// request is one batch inference: a PCM16 utterance plus decoding hints.
type request struct {
	PCM      []byte
	Format   audio.Format
	Language string
	Prompt   string
}

// inferFunc runs one batch inference. Both the HTTP and the native backends
// provide one.
type inferFunc func(ctx context.Context, req request) (string, error)

// segmentation holds the energy-based utterance detector settings.
type segmentation struct {
	rmsThreshold  float64
	silence       time.Duration
	maxUtterance  time.Duration
	flushTimeout time.Duration
}

func defaultSegmentation() segmentation {
	return segmentation{
		rmsThreshold:  defaultRMSThreshold,
		silence:       defaultSilence,
		maxUtterance:  defaultMaxUtterance,
		flushTimeout: 30 * time.Second,
	}
}

// session simulates streaming on top of a batch recognizer. Audio is split
// into utterances at pauses; each utterance is transcribed and emitted as a
// partial followed by a final with the same text. It implements
// stt.SessionHandle.
type session struct {
	infer    inferFunc
	format   audio.Format
	language string
	seg      segmentation

	promptMu sync.RWMutex
	prompt   string

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, infer inferFunc, f audio.Format, language string, keywords []stt.KeywordBoost, seg segmentation) *session {
	s := &session{
		infer:    infer,
		format:   f,
		language: language,
		seg:      seg,
		prompt:   promptFor(keywords),
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan error, 8),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// promptFor joins the keywords into an initial decoding prompt so the model
// is biased towards the passage vocabulary.
func promptFor(keywords []stt.KeywordBoost) string {
	words := make([]string, 0, len(keywords))
	for _, k := range keywords {
		words = append(words, k.Keyword)
	}
	return strings.Join(words, " ")
}

var errSessionClosed = errors.New("whisper: session is closed")

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Errors() <-chan error { return s.errs }

// SetKeywords replaces the decoding prompt used for subsequent utterances.
func (s *session) SetKeywords(keywords []stt.KeywordBoost) error {
	p := promptFor(keywords)
	s.promptMu.Lock()
	s.prompt = p
	s.promptMu.Unlock()
	return nil
}

// Close flushes a pending utterance, closes the output channels and waits for
// the processing goroutine.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) currentPrompt() string {
	s.promptMu.RLock()
	defer s.promptMu.RUnlock()
	return s.prompt
}

// processLoop owns all buffering state.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.errs)
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
	)

	flush := func(fctx context.Context) {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}

		text, err := s.infer(fctx, request{
			PCM:      pcm,
			Format:   s.format,
			Language: s.language,
			Prompt:   s.currentPrompt(),
		})
		if err != nil {
			stt.ReportError(s.errs, err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			stt.ReportError(s.errs, stt.ErrNoSpeech)
			return
		}
		// Buffered channels; skip rather than block during shutdown.
		select {
		case s.partials <- stt.Transcript{Text: text}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
	}

	final := func() {
		fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.seg.flushTimeout)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return
		case <-s.done:
			final()
			return
		case chunk := <-s.audioCh:
			d := audio.PCMDuration(len(chunk), s.format)
			if audio.RMS(chunk) < s.seg.rmsThreshold {
				// Leading silence is dropped.
				if !hadSpeech {
					continue
				}
				silence += d
				buffer = append(buffer, chunk...)
				if silence >= s.seg.silence {
					flush(ctx)
				}
				continue
			}
			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if s.seg.maxUtterance > 0 && audio.PCMDuration(len(buffer), s.format) >= s.seg.maxUtterance {
				flush(ctx)
			}
		}
	}
}
