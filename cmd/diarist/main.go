// Command diarist is the speaker-annotated transcription server.
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
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verbalis/diarist/internal/annotate"
	"github.com/verbalis/diarist/internal/config"
	"github.com/verbalis/diarist/internal/observe"
	"github.com/verbalis/diarist/internal/resilience"
	"github.com/verbalis/diarist/internal/server"
	"github.com/verbalis/diarist/internal/speaker"
	"github.com/verbalis/diarist/pkg/provider/diarizer"
	diarizerpyannote "github.com/verbalis/diarist/pkg/provider/diarizer/pyannote"
	"github.com/verbalis/diarist/pkg/provider/embedder"
	embedderpyannote "github.com/verbalis/diarist/pkg/provider/embedder/pyannote"
	"github.com/verbalis/diarist/pkg/provider/transcriber/whisper"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

const (
	defaultListenAddr = ":8080"
	shutdownGrace     = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", "", "path to a .env file loaded before the config (default: ./.env if present)")
	flag.Parse()

	// ── Environment bootstrap ─────────────────────────────────────────────────
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "diarist: load env file %q: %v\n", *envFile, err)
			return 1
		}
	} else {
		// A ./.env is optional.
		_ = godotenv.Load()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diarist: %v\n", err)
		return 1
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("diarist starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is applied live; other changes are surfaced so the
	// operator knows a restart is due.
	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Compare(old, new)
			if d.LogLevelChanged {
				logLevel.Set(d.NewLogLevel.SlogLevel())
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			for _, field := range d.RestartNeeded {
				slog.Warn("config change requires restart", "field", field)
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "diarist",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	var whisperOpts []whisper.Option
	if cfg.Transcriber.TimeoutSeconds > 0 {
		whisperOpts = append(whisperOpts, whisper.WithTimeout(time.Duration(cfg.Transcriber.TimeoutSeconds)*time.Second))
	}
	transcriberClient, err := whisper.New(cfg.Transcriber.URL, whisperOpts...)
	if err != nil {
		slog.Error("failed to create transcriber client", "err", err)
		return 1
	}
	slog.Info("transcriber configured", "url", cfg.Transcriber.URL)

	var diarizerClient diarizer.Client
	if cfg.Diarizer.URL != "" {
		var opts []diarizerpyannote.Option
		if cfg.Diarizer.Model != "" {
			opts = append(opts, diarizerpyannote.WithModel(cfg.Diarizer.Model))
		}
		if cfg.Diarizer.AuthToken != "" {
			opts = append(opts, diarizerpyannote.WithAuthToken(cfg.Diarizer.AuthToken))
		}
		inner, err := diarizerpyannote.New(cfg.Diarizer.URL, opts...)
		if err != nil {
			slog.Error("failed to create diarizer client", "err", err)
			return 1
		}
		diarizerClient = resilience.NewBreakerDiarizer(inner, resilience.CircuitBreakerConfig{})
		slog.Info("diarizer configured", "url", cfg.Diarizer.URL, "model", cfg.Diarizer.Model)
	} else {
		slog.Info("diarizer not configured; speaker attribution disabled")
	}

	var embedderClient embedder.Client
	if cfg.Embedder.URL != "" {
		var opts []embedderpyannote.Option
		if cfg.Embedder.AuthToken != "" {
			opts = append(opts, embedderpyannote.WithAuthToken(cfg.Embedder.AuthToken))
		}
		inner, err := embedderpyannote.New(cfg.Embedder.URL, opts...)
		if err != nil {
			slog.Error("failed to create embedder client", "err", err)
			return 1
		}
		breaker := resilience.NewBreakerEmbedder(inner, resilience.CircuitBreakerConfig{})
		embedderClient = &observe.InstrumentedEmbedder{Inner: breaker, Metrics: metrics}
		slog.Info("embedder configured", "url", cfg.Embedder.URL)
	} else {
		slog.Info("embedder not configured; speaker labels stay chunk-local")
	}

	// ── Speaker store and pipeline ────────────────────────────────────────────
	store, err := speaker.NewStore(cfg.Speakers.PersistDir,
		speaker.WithSessionNotify(func(delta int64) {
			metrics.ActiveSessions.Add(context.Background(), delta)
		}))
	if err != nil {
		slog.Error("failed to open speaker store", "err", err)
		return 1
	}
	if cfg.Speakers.PersistDir != "" {
		slog.Info("speaker persistence enabled", "dir", cfg.Speakers.PersistDir)
	}

	processorOpts := []annotate.ProcessorOption{annotate.WithMetrics(metrics)}
	if diarizerClient != nil {
		processorOpts = append(processorOpts, annotate.WithDiarizer(diarizerClient))
	}
	if embedderClient != nil {
		processorOpts = append(processorOpts, annotate.WithResolver(speaker.NewResolver(store, embedderClient)))
	}
	processor := annotate.NewProcessor(transcriberClient, processorOpts...)

	srv := server.New(server.Options{
		Processor:          processor,
		Store:              store,
		Transcriber:        transcriberClient,
		Diarizer:           diarizerClient,
		Embedder:           embedderClient,
		UploadDir:          cfg.Server.UploadDir,
		Metrics:            metrics,
		Version:            version,
		DiarizerModel:      cfg.Diarizer.Model,
		DefaultTemperature: cfg.Transcriber.Temperature,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	if err := store.SaveAll(); err != nil {
		slog.Warn("speaker store flush error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the config file, falling back to a pure-environment
// configuration when the default file does not exist. Deployments driven
// entirely by WHISPER_SERVER_URL and friends need no YAML at all.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = &config.Config{}
	config.ApplyEnv(cfg)
	if verr := config.Validate(cfg); verr != nil {
		return nil, fmt.Errorf("config file %q not found and environment is incomplete: %w", path, verr)
	}
	return cfg, nil
}
