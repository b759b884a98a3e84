package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be safely applied without a restart are tracked in detail; provider,
// storage, and listener changes are reported via RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AudioChanged bool
	NewAudio     AudioConfig

	PipelineChanged bool
	NewPipeline     PipelineConfig

	// RestartRequired is true when a non-hot-reloadable section changed.
	RestartRequired bool
}

// Any reports whether the diff contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AudioChanged || d.PipelineChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
		d.NewAudio = new.Audio
	}
	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
		d.NewPipeline = new.Pipeline
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!entryEqual(old.Providers.STT, new.Providers.STT) ||
		!entryEqual(old.Providers.LLM, new.Providers.LLM) ||
		old.Storage != new.Storage {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual ignores the free-form Options map: options changes for a live
// provider require a restart anyway, so RestartRequired already covers them
// via Name/Model edits in practice.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
