package config

import "fmt"

// Diff describes what changed between two configs. Only the log level can be
// applied to a running server; every other change is reported so the operator
// knows a restart is needed.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartNeeded lists the dotted names of changed fields that cannot be
	// hot-applied.
	RestartNeeded []string
}

// Changed reports whether the two configs differ at all.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartNeeded) > 0
}

// Compare returns the difference between an old and a new config.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.upload_dir", old.Server.UploadDir != new.Server.UploadDir)
	restart("transcriber.url", old.Transcriber.URL != new.Transcriber.URL)
	restart("transcriber.timeout_seconds", old.Transcriber.TimeoutSeconds != new.Transcriber.TimeoutSeconds)
	restart("transcriber.temperature", old.Transcriber.Temperature != new.Transcriber.Temperature)
	restart("diarizer.url", old.Diarizer.URL != new.Diarizer.URL)
	restart("diarizer.model", old.Diarizer.Model != new.Diarizer.Model)
	restart("diarizer.auth_token", old.Diarizer.AuthToken != new.Diarizer.AuthToken)
	restart("embedder.url", old.Embedder.URL != new.Embedder.URL)
	restart("embedder.auth_token", old.Embedder.AuthToken != new.Embedder.AuthToken)
	restart("speakers.persist_dir", old.Speakers.PersistDir != new.Speakers.PersistDir)

	return d
}

// String summarises the diff for log output.
func (d Diff) String() string {
	switch {
	case !d.Changed():
		return "no changes"
	case d.LogLevelChanged && len(d.RestartNeeded) == 0:
		return fmt.Sprintf("log level -> %s", d.NewLogLevel)
	case d.LogLevelChanged:
		return fmt.Sprintf("log level -> %s, restart needed for %v", d.NewLogLevel, d.RestartNeeded)
	default:
		return fmt.Sprintf("restart needed for %v", d.RestartNeeded)
	}
}
