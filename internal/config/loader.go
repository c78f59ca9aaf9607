package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names not listed here.
var ValidProviderNames = map[string][]string{
	"recognizer":  {"deepgram", "whisper", "whisper-native"},
	"transcriber": {"openai", "whisper", "whisper-native"},
	"audio":       {"pipe", "malgo"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.expandSecrets()
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets substitutes ${VAR} references in API keys and the store DSN
// so credentials can stay out of the file.
func (c *Config) expandSecrets() {
	expand := func(e *ProviderEntry) { e.APIKey = os.ExpandEnv(e.APIKey) }
	expand(&c.Providers.Recognizer)
	expand(&c.Providers.Transcriber)
	for i := range c.Providers.RecognizerFallbacks {
		expand(&c.Providers.RecognizerFallbacks[i])
	}
	for i := range c.Providers.TranscriberFallbacks {
		expand(&c.Providers.TranscriberFallbacks[i])
	}
	c.Store.DSN = os.ExpandEnv(c.Store.DSN)
}

// Validate checks cfg for coherent values and returns every failure joined
// into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("recognizer", cfg.Providers.Recognizer.Name)
	for i, e := range cfg.Providers.RecognizerFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.recognizer_fallbacks[%d].name is required", i))
		}
		validateProviderName("recognizer", e.Name)
	}
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	for i, e := range cfg.Providers.TranscriberFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
		}
		validateProviderName("transcriber", e.Name)
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.Recognizer.Name == "" && len(cfg.Providers.RecognizerFallbacks) > 0 {
		errs = append(errs, errors.New("providers.recognizer_fallbacks requires providers.recognizer"))
	}
	if cfg.Providers.Transcriber.Name == "" && len(cfg.Providers.TranscriberFallbacks) > 0 {
		errs = append(errs, errors.New("providers.transcriber_fallbacks requires providers.transcriber"))
	}
	if cfg.Providers.Recognizer.Name == "" {
		slog.Warn("no recognizer configured; coaching sessions will only capture raw audio")
	}
	if cfg.Providers.Transcriber.Name == "" {
		slog.Warn("no transcriber configured; exams and fallback captures cannot be graded")
	}

	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite or empty", cfg.Store.Driver))
	} else if cfg.Store.Driver != StoreNone && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	r := cfg.Recitation
	if r.SampleRate < 8000 || r.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("recitation.sample_rate %d is out of range [8000, 48000]", r.SampleRate))
	}
	if r.Channels != 1 && r.Channels != 2 {
		errs = append(errs, fmt.Errorf("recitation.channels %d is invalid; valid values: 1, 2", r.Channels))
	}
	if r.Lookahead < 1 {
		errs = append(errs, fmt.Errorf("recitation.lookahead %d must be at least 1", r.Lookahead))
	}
	if r.MaxFallback < 0 {
		errs = append(errs, errors.New("recitation.max_fallback must not be negative"))
	}
	if cfg.Exam.TranscribeTimeout < 0 || cfg.Exam.MaxDuration < 0 {
		errs = append(errs, errors.New("exam durations must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a known provider of
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
