package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tilawa/internal/coach"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/exam"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	"github.com/MrWong99/tilawa/pkg/score"
)

// ErrUnknownSession is returned for session IDs that are not active.
var ErrUnknownSession = errors.New("app: unknown session")

// Session is one client's workspace: a coaching session and an exam session
// sharing a capture device.
type Session struct {
	ID        string
	StartedAt time.Time

	Coach *coach.Session
	Exam  *exam.Session

	// Pipe receives the client's audio. It is nil when the server captures
	// from a shared local device.
	Pipe *audio.Pipe

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the coach session's loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// SessionInfo describes an active session.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Passage   string    `json:"passage,omitempty"`
	Mode      string    `json:"mode"`
	Exam      string    `json:"exam"`
}

// StartOptions customise a new session.
type StartOptions struct {
	// OnExamChange receives every exam snapshot.
	OnExamChange func(exam.Snapshot)
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Recognizer  stt.Provider
	Transcriber transcribe.Transcriber

	// Device is shared by every session. When nil each session gets its own
	// pipe in the recitation format.
	Device audio.Device

	// Store persists scores and exams. Nil drops them.
	Store score.Store

	Recitation config.RecitationConfig
	Exam       config.ExamConfig
	Metrics    *observe.Metrics
}

// SessionManager creates and tracks recitation sessions. All methods are
// safe for concurrent use.
type SessionManager struct {
	recognizer  stt.Provider
	transcriber transcribe.Transcriber
	shared      *audio.Exclusive
	store       score.Store
	metrics     *observe.Metrics

	mu         sync.Mutex
	recitation config.RecitationConfig
	examCfg    config.ExamConfig
	sessions   map[string]*Session
}

// NewSessionManager returns an empty manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		recognizer:  cfg.Recognizer,
		transcriber: cfg.Transcriber,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		recitation:  cfg.Recitation,
		examCfg:     cfg.Exam,
		sessions:    make(map[string]*Session),
	}
	if cfg.Device != nil {
		sm.shared = audio.NewExclusive(cfg.Device)
	}
	if sm.recognizer == nil {
		sm.recognizer = unconfigured{}
	}
	if sm.transcriber == nil {
		sm.transcriber = unconfigured{}
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// SetRecitation replaces the recitation settings used by sessions started
// from now on.
func (sm *SessionManager) SetRecitation(rc config.RecitationConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.recitation = rc
}

// SetExam replaces the exam settings used by sessions started from now on.
func (sm *SessionManager) SetExam(ec config.ExamConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.examCfg = ec
}

// Start creates a session and runs its coach loop until [SessionManager.Stop]
// is called. ctx only carries values; cancelling it does not end the session.
func (sm *SessionManager) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	sm.mu.Lock()
	rc, ec := sm.recitation, sm.examCfg
	sm.mu.Unlock()

	id := uuid.NewString()
	log := observe.Logger(observe.WithSession(ctx, id))

	s := &Session{ID: id, StartedAt: time.Now().UTC(), done: make(chan struct{})}
	dev := sm.shared
	if dev == nil {
		f := audio.Format{SampleRate: rc.SampleRate, Channels: rc.Channels}
		if !f.Valid() {
			return nil, fmt.Errorf("app: start session: invalid audio format %s", f)
		}
		s.Pipe = audio.NewPipe(f)
		dev = audio.NewExclusive(s.Pipe)
	}

	var sink score.Sink = score.Discard
	if sm.store != nil {
		sink = sm.store
	}
	s.Coach = coach.New(dev, sm.recognizer,
		coach.WithOwner("coach/"+id),
		coach.WithSink(sink),
		coach.WithLanguage(rc.Language),
		coach.WithKeywordBoost(rc.KeywordBoost),
		coach.WithWindow(rc.Lookahead),
		coach.WithMaxFallback(rc.MaxFallback),
		coach.WithMetrics(sm.metrics),
		coach.WithLogger(log),
	)

	examOpts := []exam.Option{
		exam.WithOwner("exam/" + id),
		exam.WithTranscribeTimeout(ec.TranscribeTimeout),
		exam.WithMaxDuration(ec.MaxDuration),
		exam.WithMetrics(sm.metrics),
		exam.WithLogger(log),
	}
	if sm.store != nil {
		examOpts = append(examOpts, exam.WithRecorder(sm.store))
	}
	if opts.OnExamChange != nil {
		examOpts = append(examOpts, exam.WithOnChange(opts.OnExamChange))
	}
	s.Exam = exam.New(dev, sm.transcriber, examOpts...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.Coach.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("coach session ended", "err", err)
		}
	}()

	sm.mu.Lock()
	sm.sessions[id] = s
	n := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("session started", "active", n)
	return s, nil
}

// Get returns the active session with id.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Stop ends the session with id: pending exams are discarded, the coach loop
// exits and the audio device is released before Stop returns.
func (sm *SessionManager) Stop(id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	n := len(sm.sessions)
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	s.Exam.Clear()
	s.cancel()
	<-s.done

	sm.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session stopped", "session_id", id, "active", n, "duration", time.Since(s.StartedAt).Round(time.Second))
	return nil
}

// StopAll stops every active session. It returns ctx's error if ctx ends
// first.
func (sm *SessionManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = sm.Stop(id)
	}
	return nil
}

// Active lists active sessions, oldest first.
func (sm *SessionManager) Active(ctx context.Context) []SessionInfo {
	sm.mu.Lock()
	list := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		list = append(list, s)
	}
	sm.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info := SessionInfo{ID: s.ID, StartedAt: s.StartedAt, Exam: string(s.Exam.Snapshot().State)}
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		if snap, err := s.Coach.Snapshot(sctx); err == nil {
			info.Passage = snap.PassageKey
			info.Mode = string(snap.Mode)
		}
		cancel()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of active sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
