// Command njia is the main entry point for the NJIA case processing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/njia-health/njia/internal/audit"
	"github.com/njia-health/njia/internal/config"
	"github.com/njia-health/njia/internal/extract"
	"github.com/njia-health/njia/internal/health"
	"github.com/njia-health/njia/internal/observe"
	"github.com/njia-health/njia/internal/pipeline"
	"github.com/njia-health/njia/internal/report"
	"github.com/njia-health/njia/internal/resilience"
	"github.com/njia-health/njia/internal/server"
	"github.com/njia-health/njia/internal/store"
	"github.com/njia-health/njia/internal/transcribe"
	"github.com/njia-health/njia/pkg/audio"
	"github.com/njia-health/njia/pkg/provider/llm"
	"github.com/njia-health/njia/pkg/provider/llm/anyllm"
	openaillm "github.com/njia-health/njia/pkg/provider/llm/openai"
	"github.com/njia-health/njia/pkg/provider/stt"
	"github.com/njia-health/njia/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration (with hot reload) ──────────────────────────────────
	logLevel := new(slog.LevelVar)

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(logLevel, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "njia: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "njia: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("njia starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: server.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Case store ────────────────────────────────────────────────────────────
	cases, dbCheck, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise case store", "err", err)
		return 1
	}
	defer closeStore()

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	artifacts, err := store.NewArtifacts(dataDir)
	if err != nil {
		slog.Error("failed to initialise artifact storage", "err", err)
		return 1
	}
	trail := audit.NewFileTrail(filepath.Join(dataDir, "audit.log"))

	// ── Pipeline stages ───────────────────────────────────────────────────────
	normalizer := buildNormalizer(cfg)

	var transcribeOpts []transcribe.Option
	if cfg.Pipeline.Language != "" {
		transcribeOpts = append(transcribeOpts, transcribe.WithLanguage(cfg.Pipeline.Language))
	}
	transcriber := transcribe.New(func() (stt.Provider, error) {
		entry := watcher.Current().Providers.STT
		if entry.Name == "" {
			return nil, errors.New("no stt provider configured")
		}
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, err
		}
		// The breaker shields a dead speech backend from being hammered by
		// every incoming case.
		fb := resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{
			OnAttempt: metrics.ProviderObserver("stt"),
		})
		for _, alt := range entry.Fallbacks {
			altP, err := reg.CreateSTT(alt)
			if err != nil {
				return nil, fmt.Errorf("stt fallback %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, altP)
		}
		return fb, nil
	}, transcribeOpts...)

	var extractOpts []extract.Option
	if cfg.Pipeline.MaxTokens > 0 {
		extractOpts = append(extractOpts, extract.WithMaxTokens(cfg.Pipeline.MaxTokens))
	}
	extractor := extract.New(func() (llm.Provider, error) {
		entry := watcher.Current().Providers.LLM
		if entry.Name == "" {
			return nil, errors.New("no llm provider configured")
		}
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, err
		}
		fb := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{
			OnAttempt: metrics.ProviderObserver("llm"),
		})
		for _, alt := range entry.Fallbacks {
			altP, err := reg.CreateLLM(alt)
			if err != nil {
				return nil, fmt.Errorf("llm fallback %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, altP)
		}
		return fb, nil
	}, extractOpts...)

	mapper := report.NewMapper()

	orch, err := pipeline.New(normalizer, transcriber, extractor, mapper,
		pipeline.WithObserver(observe.NewStageObserver(metrics)),
	)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := []health.Checker{
		health.Named("artifacts", func(context.Context) error {
			_, err := os.Stat(dataDir)
			return err
		}),
	}
	if dbCheck != nil {
		checks = append(checks, health.Named("database", dbCheck))
	}

	srv, err := server.New(server.Deps{
		Cases:            cases,
		Artifacts:        artifacts,
		Normalizer:       normalizer,
		Transcriber:      transcriber,
		Extractor:        extractor,
		Mapper:           mapper,
		Orchestrator:     orch,
		Metrics:          metrics,
		Health:           health.New(checks...),
		Audit:            trail,
		Logger:           logger,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)

	select {
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ─── Configuration reload ─────────────────────────────────────────────────────

// applyConfigChange applies hot-reloadable settings from a changed config
// file. Sections that need a restart are logged and left alone.
func applyConfigChange(logLevel *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AudioChanged {
		slog.Info("audio settings changed — applies to new normalizer instances on restart",
			"target_rms", d.NewAudio.TargetRMS,
			"noise_suppression", d.NewAudio.NoiseSuppression,
		)
	}
	if d.PipelineChanged {
		slog.Info("pipeline settings changed", "language", d.NewPipeline.Language)
	}
	if d.RestartRequired {
		slog.Warn("config change affects providers, storage, or the listener — restart to apply")
	}
}

// ─── Provider wiring ──────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with njia. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt": {"whisper", "whisper-native"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the official SDK; the rest share the any-llm
	// pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ─── Storage wiring ───────────────────────────────────────────────────────────

// buildStore creates the case record store: PostgreSQL when a DSN is
// configured, in-memory otherwise. The returned check probes database
// connectivity for readiness (nil for the in-memory store).
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(context.Context) error, func(), error) {
	dsn := cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured — case records are kept in memory and lost on restart")
		return store.NewMemStore(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate case schema: %w", err)
	}

	slog.Info("postgres case store ready")
	return pg, pool.Ping, pool.Close, nil
}

// ─── Pipeline wiring ──────────────────────────────────────────────────────────

func buildNormalizer(cfg *config.Config) *audio.Normalizer {
	var opts []audio.Option
	if cfg.Audio.TargetRMS > 0 {
		opts = append(opts, audio.WithTargetRMS(cfg.Audio.TargetRMS))
	}
	if cfg.Audio.NoiseSuppression > 0 {
		opts = append(opts, audio.WithSuppression(cfg.Audio.NoiseSuppression))
	}
	return audio.NewNormalizer(opts...)
}

// ─── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           NJIA — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	if cfg.Storage.PostgresDSN != "" {
		fmt.Printf("║  Case store      : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Case store      : %-19s ║\n", "in-memory")
	}
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

// ─── Helpers ──────────────────────────────────────────────────────────────────

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
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
