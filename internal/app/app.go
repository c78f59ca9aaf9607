// Package app wires the Tilawa subsystems into a running server.
//
// New opens the score store and builds the session manager, Run serves HTTP
// until its context ends, and Shutdown stops every session and closes the
// store.
//
// Tests inject doubles through options (WithStore). When an option is not
// provided, New builds the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	"github.com/MrWong99/tilawa/pkg/score"
	"github.com/MrWong99/tilawa/pkg/score/postgres"
	"github.com/MrWong99/tilawa/pkg/score/sqlite"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App owns the lifetime of the store, the sessions and the HTTP server.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	store    score.Store
	sessions *SessionManager
	health   *health.Handler
	listener net.Listener

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New.
type Option func(*App)

// WithStore injects a score store instead of opening one from config. The
// App does not close injected stores.
func WithStore(s score.Store) Option {
	return func(a *App) { a.store = s }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New builds an App from cfg and the providers main created through the
// registry.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Recognizer:  providers.Recognizer,
		Transcriber: providers.Transcriber,
		Device:      providers.Audio,
		Store:       a.store,
		Recitation:  cfg.Recitation,
		Exam:        cfg.Exam,
		Metrics:     a.metrics,
	})

	checkers := append([]health.Checker(nil), providers.Checkers...)
	if a.store != nil {
		checkers = append(checkers, health.Store(a.store))
	}
	a.health = health.New(checkers...)
	return a, nil
}

// initStore opens the configured score store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	var (
		st  score.Store
		err error
	)
	switch a.cfg.Store.Driver {
	case config.StoreNone:
		slog.Warn("no score store configured; completed passes and exams are not kept")
		return nil
	case config.StorePostgres:
		st, err = postgres.NewStore(ctx, a.cfg.Store.DSN)
	case config.StoreSQLite:
		st, err = sqlite.Open(ctx, a.cfg.Store.DSN)
	default:
		return fmt.Errorf("unknown driver %q", a.cfg.Store.Driver)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("score store opened", "driver", a.cfg.Store.Driver)
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the score store, or nil when none is configured.
func (a *App) Store() score.Store { return a.store }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// Transcriber returns the configured transcriber, or nil.
func (a *App) Transcriber() transcribe.Transcriber { return a.providers.Transcriber }

// ApplyConfig applies the hot-reloadable parts of d. Log level changes are
// handled by main, which owns the handler.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.RecitationChanged {
		a.sessions.SetRecitation(d.NewRecitation)
		slog.Info("recitation settings updated for new sessions",
			"lookahead", d.NewRecitation.Lookahead,
			"keyword_boost", d.NewRecitation.KeywordBoost,
		)
	}
	if d.ExamChanged {
		a.sessions.SetExam(d.NewExam)
		slog.Info("exam settings updated for new sessions")
	}
	if d.RestartRequired {
		slog.Warn("configuration changes require a restart to take effect")
	}
}

// Run serves h until ctx is cancelled, then stops accepting connections and
// ends every session. It returns ctx's error after a clean shutdown.
func (a *App) Run(ctx context.Context, h http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", srv.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Sessions first: their WebSocket handlers return once the coach
		// loops exit, which lets Shutdown finish.
		if err := a.sessions.StopAll(sctx); err != nil {
			slog.Warn("stopping sessions", "err", err)
		}
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops remaining sessions and runs the closers in order. If ctx
// expires first the remaining closers are skipped and ctx's error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		if err := a.sessions.StopAll(ctx); err != nil {
			shutdownErr = err
			return
		}
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
