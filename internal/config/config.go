// Package config provides the configuration schema, loader, file watcher and
// provider registry for the Tilawa recitation server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreDriver selects the score store backend.
type StoreDriver string

const (
	// StoreNone keeps no history; completed passes are dropped.
	StoreNone StoreDriver = ""

	// StorePostgres stores history in PostgreSQL through pgx.
	StorePostgres StoreDriver = "postgres"

	// StoreSQLite stores history in an embedded SQLite file.
	StoreSQLite StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreNone, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultLanguage          = "ar"
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultLookahead         = 4
	DefaultKeywordBoost      = 1.5
	DefaultMaxFallback       = 10 * time.Minute
	DefaultTranscribeTimeout = 2 * time.Minute
	DefaultMaxExamDuration   = 30 * time.Minute
)

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Store      StoreConfig      `yaml:"store"`
	Recitation RecitationConfig `yaml:"recitation"`
	Exam       ExamConfig       `yaml:"exam"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted for WebSocket upgrades
	// from browsers on another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the recognizer, transcriber and audio input. Each
// entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	// Recognizer is the continuous recognizer used by coaching sessions.
	Recognizer ProviderEntry `yaml:"recognizer"`

	// RecognizerFallbacks are tried in order when the recognizer cannot
	// open a stream.
	RecognizerFallbacks []ProviderEntry `yaml:"recognizer_fallbacks"`

	// Transcriber is the batch transcriber used for exams and for fallback
	// captures.
	Transcriber ProviderEntry `yaml:"transcriber"`

	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`

	// Audio selects the capture device: "pipe" streams audio from each
	// WebSocket client, "malgo" uses the local microphone.
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the whisper
	// HTTP backend it is the whisper.cpp server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or a model file path for
	// native backends.
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// StoreConfig selects where score history is kept.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a PostgreSQL connection string or a SQLite file path.
	DSN string `yaml:"dsn"`
}

// RecitationConfig holds coaching parameters applied to new sessions.
type RecitationConfig struct {
	// Language is the recognizer language tag. Default "ar".
	Language string `yaml:"language"`

	// SampleRate and Channels describe the audio clients send.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Lookahead is the streaming aligner window. Default 4.
	Lookahead int `yaml:"lookahead"`

	// KeywordBoost is the recognizer boost given to passage words. A
	// negative value disables keyword hints. Default 1.5.
	KeywordBoost float64 `yaml:"keyword_boost"`

	// MaxFallback caps the audio buffered while the recognizer is down.
	MaxFallback time.Duration `yaml:"max_fallback"`
}

// ExamConfig holds exam parameters.
type ExamConfig struct {
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	MaxDuration       time.Duration `yaml:"max_duration"`
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Providers.Audio.Name == "" {
		c.Providers.Audio.Name = "pipe"
	}
	r := &c.Recitation
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.Channels == 0 {
		r.Channels = DefaultChannels
	}
	if r.Lookahead == 0 {
		r.Lookahead = DefaultLookahead
	}
	if r.KeywordBoost == 0 {
		r.KeywordBoost = DefaultKeywordBoost
	}
	if r.MaxFallback == 0 {
		r.MaxFallback = DefaultMaxFallback
	}
	if c.Exam.TranscribeTimeout == 0 {
		c.Exam.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.Exam.MaxDuration == 0 {
		c.Exam.MaxDuration = DefaultMaxExamDuration
	}
}
