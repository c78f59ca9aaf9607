package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked; provider, store and listen
// address changes take effect on the next start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecitationChanged is true when any recitation parameter changed.
	// New coaching sessions pick up NewRecitation; running ones keep theirs.
	RecitationChanged bool
	NewRecitation     RecitationConfig

	ExamChanged bool
	NewExam     ExamConfig

	// RestartRequired is true when a field that cannot be hot-reloaded
	// changed.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recitation != new.Recitation {
		d.RecitationChanged = true
		d.NewRecitation = new.Recitation
	}
	if old.Exam != new.Exam {
		d.ExamChanged = true
		d.NewExam = new.Exam
	}

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Store != new.Store ||
		!providersEqual(old.Providers, new.Providers)

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Recognizer, b.Recognizer) &&
		entryEqual(a.Transcriber, b.Transcriber) &&
		entryEqual(a.Audio, b.Audio) &&
		entriesEqual(a.RecognizerFallbacks, b.RecognizerFallbacks) &&
		entriesEqual(a.TranscriberFallbacks, b.TranscriberFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores Options; option changes alone never force a restart
// warning.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
