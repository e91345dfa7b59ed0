package config_test

import (
	"slices"
	"testing"

	"github.com/verbalis/diarist/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":8080"
	cfg.Server.LogLevel = config.LogInfo
	cfg.Transcriber.URL = "http://localhost:8081"
	cfg.Transcriber.TimeoutSeconds = 300
	cfg.Diarizer.URL = "http://localhost:8082"
	cfg.Diarizer.Model = "pyannote/speaker-diarization-3.1"
	cfg.Embedder.URL = "http://localhost:8083"
	cfg.Speakers.PersistDir = "/var/lib/diarist/speakers"
	return cfg
}

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()

	d := config.Compare(old, new)
	if d.Changed() {
		t.Errorf("identical configs reported as changed: %+v", d)
	}
	if d.String() != "no changes" {
		t.Errorf("String() = %q, want %q", d.String(), "no changes")
	}
}

func TestCompare_LogLevelOnly(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("RestartNeeded = %v, want empty (log level is hot-applied)", d.RestartNeeded)
	}
}

func TestCompare_RestartNeededFields(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Transcriber.URL = "http://whisper.internal:8081"
	new.Diarizer.Model = "pyannote/speaker-diarization-2.1"
	new.Speakers.PersistDir = ""

	d := config.Compare(old, new)
	if d.LogLevelChanged {
		t.Error("LogLevelChanged = true, want false")
	}
	want := []string{"transcriber.url", "diarizer.model", "speakers.persist_dir"}
	for _, field := range want {
		if !slices.Contains(d.RestartNeeded, field) {
			t.Errorf("RestartNeeded = %v, missing %q", d.RestartNeeded, field)
		}
	}
	if len(d.RestartNeeded) != len(want) {
		t.Errorf("RestartNeeded = %v, want exactly %v", d.RestartNeeded, want)
	}
}

func TestCompare_MixedChange(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogWarn
	new.Server.ListenAddr = ":9090"

	d := config.Compare(old, new)
	if !d.Changed() {
		t.Fatal("Changed() = false, want true")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v/%q, want true/%q", d.LogLevelChanged, d.NewLogLevel, config.LogWarn)
	}
	if !slices.Contains(d.RestartNeeded, "server.listen_addr") {
		t.Errorf("RestartNeeded = %v, missing server.listen_addr", d.RestartNeeded)
	}
}
