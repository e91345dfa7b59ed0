// Package speaker implements session-scoped speaker identity tracking.
//
// A diarizer labels voices only within a single audio chunk. This package
// maps those per-chunk labels onto stable, session-wide speaker identifiers
// by comparing voice embeddings against accumulated per-speaker profiles:
// [Profile] holds the embedding history for one stable speaker, [Store] owns
// every profile grouped by session and handles snapshot persistence, and
// [Resolver] performs the per-chunk assignment.
package speaker

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
)

const (
	// MatchThreshold is the cosine similarity at or above which a chunk
	// embedding is considered the same voice as an existing profile.
	MatchThreshold = 0.60

	// MinEmbedDuration is the minimum representative-turn duration (seconds)
	// worth extracting an embedding for. Shorter fragments are usually
	// diarizer false positives.
	MinEmbedDuration = 0.5

	// MinPersistDuration is the minimum representative-turn duration
	// (seconds) at which an embedding is added to a profile. Between
	// MinEmbedDuration and this bound an embedding may still match against
	// centroids but must not pollute them.
	MinPersistDuration = 1.5

	// maxEmbeddings caps the per-profile history. Oldest entries are evicted
	// first so the centroid tracks the current acoustic environment rather
	// than the session's first minute.
	maxEmbeddings = 50
)

// Profile accumulates voice embeddings and observation stats for one stable
// speaker within a session. It is owned by a [Store]; callers outside this
// package obtain read access via [Store.Speakers].
type Profile struct {
	// ID is the stable session-scoped identifier ("SPEAKER_00", ...).
	ID string

	// TotalDuration is the cumulative seconds of audio across all
	// observations that contributed an embedding.
	TotalDuration float64

	// ChunkCount is the number of chunks in which this speaker contributed
	// an embedding.
	ChunkCount int

	embeddings [][]float64
	centroid   []float64 // cached mean; nil when stale or empty
}

// NewProfile creates an empty profile with the given stable identifier.
func NewProfile(id string) *Profile {
	return &Profile{ID: id}
}

// AddEmbedding appends a copy of e to the profile history, evicting the
// oldest entry beyond the cap, and accounts duration seconds of observed
// audio. Embeddings whose dimension disagrees with the existing history are
// dropped.
func (p *Profile) AddEmbedding(e []float64, duration float64) {
	if len(e) == 0 {
		return
	}
	if len(p.embeddings) > 0 && len(p.embeddings[0]) != len(e) {
		slog.Warn("dropping embedding with mismatched dimension",
			"speaker_id", p.ID,
			"have", len(p.embeddings[0]),
			"got", len(e),
		)
		return
	}

	cp := make([]float64, len(e))
	copy(cp, e)
	p.embeddings = append(p.embeddings, cp)
	if len(p.embeddings) > maxEmbeddings {
		p.embeddings = p.embeddings[len(p.embeddings)-maxEmbeddings:]
	}
	p.centroid = nil

	p.TotalDuration += duration
	p.ChunkCount++
}

// Centroid returns the arithmetic mean of the stored embeddings, or nil when
// the profile is empty. The result is cached until the next insertion; the
// returned slice must not be modified by the caller.
func (p *Profile) Centroid() []float64 {
	if len(p.embeddings) == 0 {
		return nil
	}
	if p.centroid == nil {
		c := make([]float64, len(p.embeddings[0]))
		for _, e := range p.embeddings {
			floats.Add(c, e)
		}
		floats.Scale(1/float64(len(p.embeddings)), c)
		p.centroid = c
	}
	return p.centroid
}

// EmbeddingCount returns the number of embeddings currently held.
func (p *Profile) EmbeddingCount() int {
	return len(p.embeddings)
}

// seed initializes the history with a single embedding without touching the
// observation stats. Used when restoring a profile from a snapshot, where
// only the centroid survived.
func (p *Profile) seed(centroid []float64) {
	p.embeddings = [][]float64{centroid}
	p.centroid = nil
}
