// Package transcriber defines the Client interface for batch speech-to-text
// backends.
//
// A transcriber wraps a transcription service (e.g., a local whisper.cpp
// server) that takes a complete audio file and returns time-stamped text
// segments. Unlike a streaming STT session there is no incremental output:
// one call, one ordered segment list.
//
// Implementations must be safe for concurrent use.
package transcriber

import (
	"context"
	"errors"
)

// ErrTimeout is returned (wrapped) when a transcription request exceeds its
// configured deadline. Callers should treat it as transient and retry.
var ErrTimeout = errors.New("transcriber: request timed out")

// Segment is one time-stamped span of transcribed text. Start and End are
// seconds from the beginning of the submitted audio file.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Options carries per-request hints forwarded to the backend. Zero values
// mean "use the backend default".
type Options struct {
	// Temperature is the sampling temperature passed through verbatim
	// (e.g., "0.0"). Whisper-style backends accept it as a form field.
	Temperature string

	// Language is the BCP-47 language tag for recognition. An empty string
	// lets the backend auto-detect, if supported.
	Language string
}

// Client is the abstraction over any batch transcription backend.
//
// Implementations must be safe for concurrent use; multiple chunks may be in
// flight simultaneously.
type Client interface {
	// Transcribe submits the audio file at audioPath and returns the ordered
	// transcription segments. An empty (non-nil error-free) result means the
	// backend found no speech. A deadline overrun returns an error wrapping
	// [ErrTimeout].
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error)

	// Healthy probes the backend and returns nil when it is reachable.
	Healthy(ctx context.Context) error
}
