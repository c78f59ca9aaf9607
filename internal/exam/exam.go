// Package exam implements the exam session: record a whole recitation
// without live feedback, transcribe it once the student stops and grade it
// against the expected text.
//
// A session moves through idle → recording → analyzing → results. Every
// transition is reported to the optional OnChange callback. Clear returns to
// idle from any state; a transcription still in flight at that point is
// cancelled and its late result discarded.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/batch"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	"github.com/MrWong99/tilawa/pkg/score"
)

// State is the exam lifecycle stage.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateAnalyzing State = "analyzing"
	StateResults   State = "results"
)

var (
	// ErrActive is returned by Start while a recording or analysis is in
	// progress.
	ErrActive = errors.New("exam: session already active")

	// ErrNotRecording is returned by Stop outside the recording state.
	ErrNotRecording = errors.New("exam: not recording")

	// ErrCleared is returned by Start when Clear ran while the device was
	// opening.
	ErrCleared = errors.New("exam: cleared during start")
)

// Recorder persists graded exams. [score.Store] satisfies it.
type Recorder interface {
	RecordExam(ctx context.Context, rec score.ExamRecord) error
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	State           State              `json:"state"`
	Result          *recite.ExamResult `json:"result,omitempty"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at,omitzero"`
	DurationSeconds int                `json:"duration_seconds"`
}

// Option configures a [Session].
type Option func(*Session)

// WithOwner names the session when it acquires the audio device.
func WithOwner(owner string) Option {
	return func(s *Session) { s.owner = owner }
}

// WithTranscribeTimeout bounds each transcription. Zero means no timeout.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithMaxDuration caps the recorded audio.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) { s.maxDuration = d }
}

// WithRecorder records graded exams, keyed by the current passage key.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.store = r }
}

// WithOnChange registers fn to receive a snapshot after every transition and
// once per recorded second. Calls are serialised and in order: a snapshot
// older than one already delivered is dropped. fn must not block for long
// and must not call Start, Stop or Clear.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithAligner sets the batch aligner used for grading.
func WithAligner(a *batch.Aligner) Option {
	return func(s *Session) { s.aligner = a }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is an exam session. It is safe for concurrent use.
type Session struct {
	dev         *audio.Exclusive
	tr          transcribe.Transcriber
	store       Recorder
	aligner     *batch.Aligner
	metrics     *observe.Metrics
	log         *slog.Logger
	onChange    func(Snapshot)
	owner       string
	timeout     time.Duration
	maxDuration time.Duration

	mu        sync.Mutex
	state     State
	result    *recite.ExamResult
	err       error
	key       string
	startedAt time.Time
	seconds   int
	rec       *audio.Recorder
	cancel    context.CancelFunc
	gen       uint64
	starting  bool
	seq       uint64

	// nmu serialises OnChange calls; sent is the seq of the last delivered
	// notice.
	nmu  sync.Mutex
	sent uint64

	inflight sync.WaitGroup
}

// notice is a snapshot taken for OnChange, ordered by seq.
type notice struct {
	snap Snapshot
	seq  uint64
}

// New returns an idle session recording from dev and transcribing with tr.
func New(dev *audio.Exclusive, tr transcribe.Transcriber, opts ...Option) *Session {
	s := &Session{
		dev:   dev,
		tr:    tr,
		owner: "exam",
		state: StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	if s.aligner == nil {
		s.aligner = batch.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "exam", "owner", s.owner)
	return s
}

// SetPassageKey sets the key graded exams are recorded under.
func (s *Session) SetPassageKey(key string) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
}

// Start begins recording. It is allowed from idle and results; a failure to
// acquire the device leaves the session idle with the error set. The device
// is opened without holding the session lock, so Snapshot and Clear stay
// responsive while it opens.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting || s.state == StateRecording || s.state == StateAnalyzing {
		s.mu.Unlock()
		return ErrActive
	}
	s.starting = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	lease, err := s.dev.Acquire(ctx, s.owner)

	s.mu.Lock()
	s.starting = false
	if s.gen != gen {
		// Cleared while the device was opening.
		s.mu.Unlock()
		if lease != nil {
			_ = lease.Release()
		}
		return fmt.Errorf("exam: start: %w", ErrCleared)
	}
	s.result = nil
	if err != nil {
		s.state = StateIdle
		s.err = fmt.Errorf("exam: start: %w", err)
		err = s.err
		n := s.noticeLocked()
		s.mu.Unlock()
		s.log.Warn("exam could not start", "err", err)
		s.notify(n)
		return err
	}

	opts := []audio.RecorderOption{audio.WithTick(func(sec int) { s.tick(gen, sec) })}
	if s.maxDuration > 0 {
		opts = append(opts, audio.WithMaxDuration(s.maxDuration))
	}
	s.rec = audio.NewRecorder(lease, opts...)
	s.state = StateRecording
	s.err = nil
	s.startedAt = s.rec.StartedAt()
	s.seconds = 0
	key := s.key
	n := s.noticeLocked()
	s.mu.Unlock()

	s.log.Info("exam recording started", "passage", key)
	s.notify(n)
	return nil
}

func (s *Session) tick(gen uint64, sec int) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.seconds = sec
	n := s.noticeLocked()
	s.mu.Unlock()
	s.notify(n)
}

// Stop ends the recording and grades it against expected in the background.
// The device is released before Stop returns.
func (s *Session) Stop(ctx context.Context, expected string) error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotRecording, s.state)
	}
	rec := s.rec
	s.rec = nil
	s.state = StateAnalyzing
	gen := s.gen
	key := s.key

	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.timeout > 0 {
		var tcancel context.CancelFunc
		actx, tcancel = context.WithTimeout(actx, s.timeout)
		cancel = chain(cancel, tcancel)
	}
	s.cancel = cancel
	s.inflight.Add(1)
	s.mu.Unlock()

	clip := rec.Stop()
	elapsed := time.Since(rec.StartedAt())
	s.metrics.ExamRecordingDuration.Record(ctx, elapsed.Seconds())

	s.mu.Lock()
	if s.gen == gen {
		s.seconds = int(elapsed / time.Second)
	}
	n := s.noticeLocked()
	s.mu.Unlock()

	s.log.Info("exam recording stopped", "passage", key, "audio", clip.Duration())
	s.notify(n)

	go s.analyze(actx, cancel, gen, key, clip, expected)
	return nil
}

func chain(fns ...context.CancelFunc) context.CancelFunc {
	return func() {
		for _, f := range fns {
			f()
		}
	}
}

func (s *Session) analyze(ctx context.Context, cancel context.CancelFunc, gen uint64, key string, clip audio.Clip, expected string) {
	defer s.inflight.Done()
	defer cancel()

	start := time.Now()
	text, err := s.tr.Transcribe(ctx, clip)
	s.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("discarding transcription of cleared exam", "passage", key)
		return
	}
	s.cancel = nil
	var res recite.ExamResult
	if err != nil {
		s.state = StateIdle
		s.err = fmt.Errorf("exam: transcribe: %w", err)
		s.result = nil
	} else {
		res = s.aligner.Analyze(expected, text)
		s.state = StateResults
		s.err = nil
		s.result = &res
	}
	n := s.noticeLocked()
	s.mu.Unlock()

	mctx := context.WithoutCancel(ctx)
	if err != nil {
		s.metrics.RecordExam(mctx, "failed")
		s.log.Warn("exam transcription failed", "passage", key, "err", err)
		s.notify(n)
		return
	}

	s.metrics.RecordExam(mctx, "completed")
	s.log.Info("exam graded", "passage", key, "accuracy", res.Accuracy, "correct", res.TotalCorrect, "expected", res.TotalExpected)
	s.notify(n)

	if s.store != nil {
		rec := score.NewExamRecord(key, res, time.Now().UTC())
		go func() {
			if err := s.store.RecordExam(mctx, rec); err != nil {
				s.log.Warn("failed to record exam", "passage", key, "err", err)
			}
		}()
	}
}

// Clear returns to idle from any state. It cancels an in-flight
// transcription and releases the device.
func (s *Session) Clear() {
	s.mu.Lock()
	s.gen++
	rec, cancel := s.rec, s.cancel
	prev := s.state
	s.rec, s.cancel = nil, nil
	s.state = StateIdle
	s.result = nil
	s.err = nil
	s.seconds = 0
	s.startedAt = time.Time{}
	n := s.noticeLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		rec.Release()
	}
	if prev != StateIdle {
		s.metrics.RecordExam(context.Background(), "cleared")
	}
	s.notify(n)
}

// Wait blocks until no transcription is in flight or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           s.state,
		StartedAt:       s.startedAt,
		DurationSeconds: s.seconds,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Session) noticeLocked() notice {
	s.seq++
	return notice{snap: s.snapshotLocked(), seq: s.seq}
}

// notify delivers n unless a later notice was already delivered.
func (s *Session) notify(n notice) {
	if s.onChange == nil {
		return
	}
	s.nmu.Lock()
	defer s.nmu.Unlock()
	if n.seq <= s.sent {
		return
	}
	s.sent = n.seq
	s.onChange(n.snap)
}
