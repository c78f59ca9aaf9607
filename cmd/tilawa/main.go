// Command tilawa is the recitation verification server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/resilience"
	"github.com/MrWong99/tilawa/internal/server"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/audio/malgo"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/stt/deepgram"
	"github.com/MrWong99/tilawa/pkg/provider/stt/whisper"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	oatranscribe "github.com/MrWong99/tilawa/pkg/provider/transcribe/openai"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration and watch for changes ──────────────────────────────
	var live atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, config.OnChange(func(d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if a := live.Load(); a != nil {
			a.ApplyConfig(d)
		}
	}))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tilawa: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tilawa: %v\n", err)
		}
		return 1
	}

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("tilawa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() { _ = watcher.Run(ctx) }()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Init(observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	var closers []io.Closer
	registerBuiltinProviders(reg, cfg, &closers)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("close provider", "err", err)
			}
		}
	}()

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	live.Store(application)

	srv := server.New(application.Sessions(),
		server.WithStore(application.Store()),
		server.WithTranscriber(application.Transcriber()),
		server.WithHealth(application.Health()),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithMetricsHandler(telemetry.Handler()),
	)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx, srv.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Providers holding native resources are appended to closers.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, closers *[]io.Closer) {
	lang := func(entry config.ProviderEntry) string {
		if l := optString(entry.Options, "language"); l != "" {
			return l
		}
		return cfg.Recitation.Language
	}

	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(lang(entry))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithLanguage(lang(entry))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "silence"); d > 0 {
			opts = append(opts, whisper.WithSilence(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		p, err := newNativeWhisper(entry, lang(entry))
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, p)
		return p, nil
	})

	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		opts := []oatranscribe.Option{oatranscribe.WithLanguage(lang(entry))}
		if entry.BaseURL != "" {
			opts = append(opts, oatranscribe.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oatranscribe.WithPrompt(prompt))
		}
		return oatranscribe.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		opts := []whisper.Option{whisper.WithLanguage(lang(entry))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.NewTranscriber(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		p, err := newNativeWhisper(entry, lang(entry))
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, p)
		return whisper.NewNativeTranscriber(p), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	// pipe means clients stream audio over their WebSocket; each session
	// gets its own pipe, so there is no shared device.
	reg.RegisterAudio("pipe", func(config.ProviderEntry) (audio.Device, error) {
		return nil, nil
	})

	reg.RegisterAudio("malgo", func(config.ProviderEntry) (audio.Device, error) {
		return malgo.New(malgo.WithFormat(audio.Format{
			SampleRate: cfg.Recitation.SampleRate,
			Channels:   cfg.Recitation.Channels,
		})), nil
	})

	for kind, names := range reg.Registered() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

func newNativeWhisper(entry config.ProviderEntry, lang string) (*whisper.NativeProvider, error) {
	modelPath := entry.Model
	if modelPath == "" {
		modelPath = optString(entry.Options, "model_path")
	}
	return whisper.NewNative(modelPath, whisper.WithNativeLanguage(lang))
}

// buildProviders instantiates the providers named in cfg and wraps each kind
// in a failover group when fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{Metrics: observe.DefaultMetrics()}

	if name := cfg.Providers.Recognizer.Name; name != "" {
		primary, err := reg.CreateRecognizer(cfg.Providers.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("create recognizer %q: %w", name, err)
		}
		group := resilience.NewRecognizerFallback(primary, name, fbCfg)
		for _, entry := range cfg.Providers.RecognizerFallbacks {
			p, err := reg.CreateRecognizer(entry)
			if err != nil {
				return nil, fmt.Errorf("create recognizer fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.Recognizer = group
		ps.Checkers = append(ps.Checkers, health.Providers("recognizer", group.Group().States))
		slog.Info("provider created", "kind", "recognizer", "name", name, "fallbacks", len(cfg.Providers.RecognizerFallbacks))
	}

	if name := cfg.Providers.Transcriber.Name; name != "" {
		primary, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
		if err != nil {
			return nil, fmt.Errorf("create transcriber %q: %w", name, err)
		}
		group := resilience.NewTranscriberFallback(primary, name, fbCfg)
		for _, entry := range cfg.Providers.TranscriberFallbacks {
			t, err := reg.CreateTranscriber(entry)
			if err != nil {
				return nil, fmt.Errorf("create transcriber fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, t)
		}
		ps.Transcriber = group
		ps.Checkers = append(ps.Checkers, health.Providers("transcriber", group.Group().States))
		slog.Info("provider created", "kind", "transcriber", "name", name, "fallbacks", len(cfg.Providers.TranscriberFallbacks))
	}

	dev, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Tilawa startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Recognizer", cfg.Providers.Recognizer.Name, cfg.Providers.Recognizer.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Fallbacks       : %-19s ║\n", fmt.Sprintf("%d stt / %d exam",
		len(cfg.Providers.RecognizerFallbacks), len(cfg.Providers.TranscriberFallbacks)))
	store := string(cfg.Store.Driver)
	if store == "" {
		store = "(disabled)"
	}
	fmt.Printf("║  Score store     : %-19s ║\n", store)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Recitation.Language)
	fmt.Printf("║  Audio format    : %-19s ║\n", fmt.Sprintf("%d Hz / %d ch", cfg.Recitation.SampleRate, cfg.Recitation.Channels))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return strings.TrimSpace(s)
}

// optDuration parses a duration option such as "800ms". Invalid values are
// ignored with a warning.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
