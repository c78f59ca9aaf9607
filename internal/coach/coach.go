// Package coach implements the live coaching session: one passage, one
// drill mode and a streaming recognizer whose final transcripts are aligned
// word by word against the passage.
//
// All session state is owned by a single driver goroutine ([Session.Run]).
// Public methods send a command to that goroutine and wait for it to finish,
// and recognizer output is delivered to the same goroutine, so a jump can
// never interleave with a half-applied transcript. Observable changes are
// published on [Session.Events].
//
// Listening acquires the shared audio device through [audio.Exclusive] and
// fails fast when another session holds it. When the recognizer fails the
// session keeps running on raw capture; the buffered audio is published as
// an [EventFallbackClip] once listening stops.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/stream"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/score"
)

const (
	defaultLanguage     = "ar"
	defaultKeywordBoost = 1.5
	defaultEventBuffer  = 256
	defaultMaxFallback  = 10 * time.Minute
)

var (
	// ErrNoPassage is returned by operations that need a loaded passage.
	ErrNoPassage = errors.New("coach: no passage loaded")

	// ErrNotDuo is returned by Trigger outside the duo modes.
	ErrNotDuo = errors.New("coach: trigger requires a duo mode")

	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("coach: session closed")
)

// Option configures a [Session].
type Option func(*Session)

// WithSink sets where completed passes are recorded. Defaults to
// [score.Discard].
func WithSink(sink score.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithOwner names the session when it acquires the audio device.
func WithOwner(owner string) Option {
	return func(s *Session) { s.owner = owner }
}

// WithLanguage sets the recognizer language. Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(s *Session) { s.language = lang }
}

// WithKeywordBoost sets the boost given to passage words as recognizer
// keywords. Zero disables keyword hints.
func WithKeywordBoost(boost float64) Option {
	return func(s *Session) { s.boost = boost }
}

// WithWindow sets the aligner lookahead window.
func WithWindow(n int) Option {
	return func(s *Session) { s.window = n }
}

// WithMaxFallback caps the audio buffered during fallback capture.
func WithMaxFallback(d time.Duration) Option {
	return func(s *Session) { s.maxFallback = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is a coaching session. Create one with [New] and drive it with
// [Session.Run].
type Session struct {
	dev         *audio.Exclusive
	rec         stt.Provider
	sink        score.Sink
	metrics     *observe.Metrics
	log         *slog.Logger
	owner       string
	language    string
	boost       float64
	window      int
	maxFallback time.Duration

	cmds      chan command
	recEvents chan recEvent
	events    chan Event
	done      chan struct{}
	started   atomic.Bool
	dropped   atomic.Int64

	// Owned by the Run goroutine.
	runCtx    context.Context
	passage   Passage
	aligner   *stream.Aligner
	mode      Mode
	phase     Phase
	mistakes  map[recite.Key]recite.Mistake
	persisted bool
	listen    *listener
	gen       uint64
}

type command struct {
	fn    func() error
	reply chan error
}

// New returns a session using dev for capture and rec for recognition.
func New(dev *audio.Exclusive, rec stt.Provider, opts ...Option) *Session {
	s := &Session{
		dev:         dev,
		rec:         rec,
		sink:        score.Discard,
		owner:       "coach",
		language:    defaultLanguage,
		boost:       defaultKeywordBoost,
		maxFallback: defaultMaxFallback,
		cmds:        make(chan command),
		recEvents:   make(chan recEvent, 64),
		events:      make(chan Event, defaultEventBuffer),
		done:        make(chan struct{}),
		mode:        ModeOff,
		mistakes:    make(map[recite.Key]recite.Mistake),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "coach", "owner", s.owner)
	var aopts []stream.Option
	if s.window > 0 {
		aopts = append(aopts, stream.WithWindow(s.window))
	}
	s.aligner = stream.New(nil, aopts...)
	return s
}

// Events returns the event stream. It is closed when Run exits. Events are
// dropped, not queued, when the consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// Dropped returns how many events were dropped.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Run drives the session until ctx is done. Listening is stopped and the
// event stream closed before Run returns. Run may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("coach: Run called twice")
	}
	s.runCtx = ctx
	defer func() {
		s.stopListening()
		close(s.done)
		close(s.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.cmds:
			c.reply <- c.fn()
		case ev := <-s.recEvents:
			s.handleRecognizer(ev)
		}
	}
}

// do runs fn on the driver goroutine and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Load replaces the passage and restarts the current mode on it.
func (s *Session) Load(ctx context.Context, p Passage) error {
	return s.do(ctx, func() error {
		s.stopListening()
		s.passage = p
		s.aligner.Load(p.Words)
		s.log.Info("passage loaded", "passage", p.Key, "words", len(p.Words))
		return s.enterMode(s.mode)
	})
}

// SetMode switches to mode. Any change stops listening and resets verdicts,
// mistakes and the completion guard.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		s.stopListening()
		return s.enterMode(mode)
	})
}

// Restart resets the current mode.
func (s *Session) Restart(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.stopListening()
		return s.enterMode(s.mode)
	})
}

// Trigger flips the duo phase: reciter → student starts listening, student
// → reciter stops it.
func (s *Session) Trigger(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.mode.Duo() {
			return fmt.Errorf("%w (mode %s)", ErrNotDuo, s.mode)
		}
		switch s.phase {
		case PhaseReciter:
			if s.aligner.Len() == 0 {
				return ErrNoPassage
			}
			s.phase = PhaseStudent
			s.highlight()
			err := s.startListening()
			s.emitState()
			return err
		default:
			s.stopListening()
			s.phase = PhaseReciter
			s.emitState()
			return nil
		}
	})
}

// Jump moves the cursor to pos, clearing every verdict after it. Recorded
// mistakes are kept.
func (s *Session) Jump(ctx context.Context, pos int) error {
	return s.do(ctx, func() error {
		if s.aligner.Len() == 0 {
			return ErrNoPassage
		}
		ups, err := s.aligner.Jump(pos)
		if err != nil {
			return fmt.Errorf("coach: %w", err)
		}
		s.apply(ups)
		return nil
	})
}

// Snapshot returns the current session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// enterMode resets all per-pass state and applies the entry behaviour of
// mode. Listening must already be stopped.
func (s *Session) enterMode(mode Mode) error {
	s.mode = mode
	s.phase = PhaseNone
	s.aligner.Reset()
	clear(s.mistakes)
	s.persisted = false

	var err error
	switch {
	case mode == ModeOff:
	case mode.Duo():
		s.phase = PhaseReciter
	case mode.listensImmediately():
		if s.aligner.Len() == 0 {
			err = ErrNoPassage
			break
		}
		start := 0
		if h := s.passage.StartHint; h > 0 && h < s.aligner.Len() {
			start = h
		}
		ups, serr := s.aligner.Start(start)
		if serr != nil {
			err = fmt.Errorf("coach: %w", serr)
			break
		}
		s.apply(ups)
		err = s.startListening()
	}
	s.log.Info("mode entered", "mode", mode, "passage", s.passage.Key)
	s.emitState()
	return err
}

func (s *Session) highlight() {
	if u, ok := s.aligner.Highlight(); ok {
		s.emit(Event{Kind: EventCurrent, Pos: u.Pos, Word: u.Word, Verdict: u.Verdict})
	}
}

// handleRecognizer processes output of the current recognizer stream.
// Output of streams that were already stopped is discarded.
func (s *Session) handleRecognizer(ev recEvent) {
	if s.listen == nil || ev.gen != s.gen || s.listen.inFallback() {
		return
	}
	switch {
	case ev.err != nil:
		if errors.Is(ev.err, stt.ErrNoSpeech) {
			s.log.Debug("recognizer heard no speech")
			return
		}
		s.enterFallback(ev.err)
	case ev.final:
		s.apply(s.aligner.FeedText(ev.text))
	default:
		s.emit(Event{Kind: EventInterim, Text: ev.text})
	}
}

// apply publishes aligner updates, records mistakes and checks completion.
func (s *Session) apply(ups []stream.Update) {
	if len(ups) == 0 {
		return
	}
	ctx := s.ctx()
	for _, u := range ups {
		switch u.Verdict {
		case recite.Unprocessed:
			s.emit(Event{Kind: EventCleared, Pos: u.Pos, Word: u.Word, Verdict: u.Verdict})
		case recite.Current:
			s.emit(Event{Kind: EventCurrent, Pos: u.Pos, Word: u.Word, Verdict: u.Verdict})
		case recite.Correct, recite.Wrong:
			s.metrics.RecordVerdict(ctx, string(s.mode), u.Verdict.String())
			s.emit(Event{Kind: EventVerdict, Pos: u.Pos, Word: u.Word, Verdict: u.Verdict, Spoken: u.Spoken})
			if u.Verdict == recite.Wrong {
				s.recordMistake(u)
			}
		}
	}

	acc, prog := s.stats()
	s.emit(Event{Kind: EventProgress, Accuracy: acc, Progress: prog})
	s.checkCompletion(acc, prog)
}

func (s *Session) recordMistake(u stream.Update) {
	key := u.Word.Key()
	if _, ok := s.mistakes[key]; ok {
		return
	}
	m := recite.Mistake{Expected: u.Word.Text, Spoken: u.Spoken}
	s.mistakes[key] = m
	s.emit(Event{Kind: EventMistake, Pos: u.Pos, Key: key, Mistake: m})
}

// checkCompletion records the score once per reset when every word has been
// judged, then stops listening.
func (s *Session) checkCompletion(acc int, prog float64) {
	total := s.aligner.Len()
	if s.persisted || total == 0 || s.aligner.Processed() < total {
		return
	}
	s.persisted = true
	s.metrics.RecordCompletion(s.ctx(), string(s.mode))
	s.log.Info("passage completed", "passage", s.passage.Key, "mode", s.mode, "accuracy", acc)
	s.emit(Event{Kind: EventCompleted, Accuracy: acc, Progress: prog})

	sc := score.Score{
		SessionKey: s.passage.Key,
		Mode:       string(s.mode),
		Accuracy:   acc,
		RecordedAt: time.Now().UTC(),
	}
	sink, log := s.sink, s.log
	go func(ctx context.Context) {
		if err := sink.Record(ctx, sc); err != nil {
			log.Warn("failed to record score", "passage", sc.SessionKey, "err", err)
		}
	}(context.WithoutCancel(s.ctx()))

	s.stopListening()
	s.emitState()
}

// stats returns accuracy and progress for the current pass.
func (s *Session) stats() (int, float64) {
	processed := s.aligner.Processed()
	return Accuracy(processed, len(s.mistakes)), Progress(processed, s.aligner.Len())
}

// Accuracy returns round(100*(processed-mistakes)/processed) clamped to
// [0,100], or 0 when nothing was processed.
func Accuracy(processed, mistakes int) int {
	if processed <= 0 {
		return 0
	}
	a := int(math.Round(100 * float64(processed-mistakes) / float64(processed)))
	return min(max(a, 0), 100)
}

// Progress returns processed/total clamped to [0,1], or 0 for an empty
// passage.
func Progress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(max(float64(processed)/float64(total), 0), 1)
}

func (s *Session) snapshot() Snapshot {
	acc, prog := s.stats()
	snap := Snapshot{
		PassageKey: s.passage.Key,
		Mode:       s.mode,
		Phase:      s.phase,
		Listening:  s.listen != nil,
		Fallback:   s.listen != nil && s.listen.inFallback(),
		Cursor:     s.aligner.Cursor(),
		Total:      s.aligner.Len(),
		Processed:  s.aligner.Processed(),
		Verdicts:   s.aligner.Verdicts(),
		Mistakes:   make([]PositionedMistake, 0, len(s.mistakes)),
		Accuracy:   acc,
		Progress:   prog,
		Completed:  s.persisted,
	}
	for k, m := range s.mistakes {
		snap.Mistakes = append(snap.Mistakes, PositionedMistake{
			Ayah: k.Ayah, Word: k.Word, Expected: m.Expected, Spoken: m.Spoken,
		})
	}
	slices.SortFunc(snap.Mistakes, func(a, b PositionedMistake) int {
		if a.Ayah != b.Ayah {
			return a.Ayah - b.Ayah
		}
		return a.Word - b.Word
	})
	return snap
}

func (s *Session) emitState() {
	snap := s.snapshot()
	s.emit(Event{Kind: EventState, State: &snap})
}

func (s *Session) emitError(err error) {
	s.emit(Event{Kind: EventError, Err: err})
}

// emit publishes ev without blocking the driver loop.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.log.Warn("coach event consumer too slow, dropping events", "dropped", n)
		}
	}
}

// ctx returns the Run context, or Background before Run started.
func (s *Session) ctx() context.Context {
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}
