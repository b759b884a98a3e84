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
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT)...)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM)...)

	// Provider availability warnings. The per-stage endpoints degrade to
	// errors at call time, so a missing provider is a warning, not a failure.
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; transcription requests will fail")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; clinical fact extraction will fail")
	}

	// Audio tunables
	if cfg.Audio.TargetRMS != 0 {
		if cfg.Audio.TargetRMS < 0 || cfg.Audio.TargetRMS > 1 {
			errs = append(errs, fmt.Errorf("audio.target_rms %.3f is out of range (0, 1]", cfg.Audio.TargetRMS))
		}
	}
	if cfg.Audio.NoiseSuppression < 0 || cfg.Audio.NoiseSuppression > 1 {
		errs = append(errs, fmt.Errorf("audio.noise_suppression %.3f is out of range [0, 1]", cfg.Audio.NoiseSuppression))
	}

	// Pipeline
	if cfg.Pipeline.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", cfg.Pipeline.MaxTokens))
	}
	if cfg.Pipeline.BatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_concurrency %d must not be negative", cfg.Pipeline.BatchConcurrency))
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; case records will be kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateFallbacks checks the fallback chain of one provider entry: every
// fallback needs a name, fallbacks cannot nest, and a chain on an unnamed
// primary has nothing to fall back from.
func validateFallbacks(kind string, entry ProviderEntry) []error {
	if len(entry.Fallbacks) == 0 {
		return nil
	}
	var errs []error
	if entry.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires a named primary provider", kind))
	}
	for i, fb := range entry.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] is missing a name", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] (%s) must not declare nested fallbacks", kind, i, fb.Name))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
