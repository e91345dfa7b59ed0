// Package embedder defines the Client interface for speaker-embedding
// backends.
//
// An embedder maps an interval of an audio file to a fixed-dimensional voice
// print: a dense vector characterizing the dominant speaker in that interval.
// Vectors from one Client instance share a single dimensionality determined
// by the underlying model; callers must not mix vectors across models.
//
// Implementations must be safe for concurrent use.
package embedder

import "context"

// Client is the abstraction over any speaker-embedding backend.
type Client interface {
	// Embed extracts the voice embedding for the interval [start, end]
	// (seconds) of the WAV file at wavPath. The returned vector length is a
	// runtime constant of the backing model. A failed extraction returns a
	// non-nil error; callers decide whether that is fatal.
	Embed(ctx context.Context, wavPath string, start, end float64) ([]float64, error)

	// Healthy probes the backend and returns nil when it is reachable and
	// its model is loaded.
	Healthy(ctx context.Context) error
}
