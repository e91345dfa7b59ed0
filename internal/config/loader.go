package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. The variable names match
// what deployments of the transcription stack already export, so a bare
// environment without a config file is enough to run.
func ApplyEnv(cfg *Config) {
	override(&cfg.Server.ListenAddr, "DIARIST_LISTEN_ADDR")
	if v := os.Getenv("DIARIST_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	override(&cfg.Server.UploadDir, "DIARIST_UPLOAD_DIR")

	override(&cfg.Transcriber.URL, "WHISPER_SERVER_URL")
	if v := os.Getenv("WHISPER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transcriber.TimeoutSeconds = n
		} else {
			slog.Warn("ignoring non-numeric WHISPER_TIMEOUT_SECONDS", "value", v)
		}
	}

	override(&cfg.Diarizer.URL, "DIARIZATION_SERVER_URL")
	override(&cfg.Diarizer.Model, "DIARIZATION_MODEL")
	override(&cfg.Embedder.URL, "EMBEDDING_SERVER_URL")

	// One HF token covers both gated pyannote models.
	if v := os.Getenv("HF_AUTH_TOKEN"); v != "" {
		cfg.Diarizer.AuthToken = v
		cfg.Embedder.AuthToken = v
	}

	override(&cfg.Speakers.PersistDir, "SPEAKER_EMBEDDING_DIR")
}

func override(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Transcriber.URL == "" {
		errs = append(errs, errors.New("transcriber.url is required (or set WHISPER_SERVER_URL)"))
	}
	if cfg.Transcriber.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("transcriber.timeout_seconds %d must not be negative", cfg.Transcriber.TimeoutSeconds))
	}

	if cfg.Diarizer.URL == "" && cfg.Embedder.URL != "" {
		slog.Warn("embedder.url is set but diarizer.url is not; identities are never resolved without diarization")
	}
	if cfg.Diarizer.URL != "" && cfg.Embedder.URL == "" {
		slog.Warn("diarizer.url is set but embedder.url is not; speaker labels will not be stable across chunks")
	}
	if cfg.Speakers.PersistDir != "" && cfg.Embedder.URL == "" {
		slog.Warn("speakers.persist_dir is set but no embedder is configured; nothing will be persisted")
	}

	return errors.Join(errs...)
}
