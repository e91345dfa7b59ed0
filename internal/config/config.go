// Package config provides the configuration schema and loader for the
// diarist service.
package config

import "log/slog"

// LogLevel controls log verbosity for the diarist server.
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

// SlogLevel maps l onto the matching [slog.Level]. Unknown values map to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for diarist.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Diarizer    DiarizerConfig    `yaml:"diarizer"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Speakers    SpeakersConfig    `yaml:"speakers"`
}

// ServerConfig holds network, logging, and upload settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// UploadDir is where uploaded chunks are spooled before processing.
	// Empty uses the system temp directory.
	UploadDir string `yaml:"upload_dir"`
}

// TranscriberConfig points at the transcription backend.
type TranscriberConfig struct {
	// URL is the base URL of the transcription server. Required.
	URL string `yaml:"url"`

	// TimeoutSeconds bounds a single transcription request. Zero uses the
	// client default.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Temperature is the default sampling temperature forwarded to the
	// backend when a request does not specify one.
	Temperature string `yaml:"temperature"`
}

// DiarizerConfig points at the diarization sidecar. An empty URL disables
// speaker attribution entirely.
type DiarizerConfig struct {
	// URL is the base URL of the diarization sidecar.
	URL string `yaml:"url"`

	// Model selects the diarization pipeline on the sidecar. Empty uses the
	// sidecar default.
	Model string `yaml:"model"`

	// AuthToken is the Hugging Face token the sidecar needs for gated
	// models.
	AuthToken string `yaml:"auth_token"`
}

// EmbedderConfig points at the voice embedding sidecar. An empty URL
// disables session-stable identities; diarization labels then stay
// chunk-local.
type EmbedderConfig struct {
	// URL is the base URL of the embedding sidecar.
	URL string `yaml:"url"`

	// AuthToken is the Hugging Face token for gated embedding models.
	AuthToken string `yaml:"auth_token"`
}

// SpeakersConfig controls speaker profile persistence.
type SpeakersConfig struct {
	// PersistDir is the directory holding per-session snapshot files.
	// Empty keeps speaker profiles in memory only.
	PersistDir string `yaml:"persist_dir"`
}
