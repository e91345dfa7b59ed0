// Package diarizer defines the Client interface for speaker diarization
// backends.
//
// A diarizer takes an audio file and partitions it into speaker turns. The
// labels it returns are local: they distinguish voices within one call but
// carry no meaning across calls. Session-stable identities are assigned by
// the resolver layer on top of these turns.
//
// Implementations must be safe for concurrent use.
package diarizer

import "context"

// Turn is one contiguous interval attributed to a single local speaker.
// Speaker is unique only within the call that produced it.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Client is the abstraction over any diarization backend.
type Client interface {
	// Turns diarizes the normalized WAV file at wavPath and returns the
	// ordered speaker turns. numSpeakers > 0 constrains the backend to that
	// many voices; 0 leaves the count unconstrained.
	Turns(ctx context.Context, wavPath string, numSpeakers int) ([]Turn, error)

	// Healthy probes the backend and returns nil when it is reachable and
	// its model is loaded.
	Healthy(ctx context.Context) error
}
