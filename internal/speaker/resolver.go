package speaker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/verbalis/diarist/pkg/provider/diarizer"
	"github.com/verbalis/diarist/pkg/provider/embedder"
)

// FallbackSpeakerID is assigned when the caller capped the expected speaker
// count, the session is already at that cap, and no existing profile is even
// a weak candidate for the voice.
const FallbackSpeakerID = "SPEAKER_00"

// Stats counts how the local labels of one chunk were resolved.
type Stats struct {
	// Matched labels were mapped to an existing profile at or above the
	// similarity threshold.
	Matched int
	// Created labels minted a new session speaker.
	Created int
	// Forced labels were mapped to the nearest existing profile below the
	// threshold because the session was at the caller's speaker cap.
	Forced int
	// Passthrough labels kept their chunk-local name, either because the
	// representative turn was too short to embed or because embedding
	// extraction failed.
	Passthrough int
}

// Resolver maps the chunk-local speaker labels produced by a diarizer onto
// stable session-wide identities using voice embeddings and the profile
// store.
type Resolver struct {
	store    *Store
	embedder embedder.Client
}

// NewResolver creates a resolver backed by the given store and embedder.
func NewResolver(store *Store, emb embedder.Client) *Resolver {
	return &Resolver{store: store, embedder: emb}
}

// Assign rewrites the Speaker field of every turn from its chunk-local label
// to a stable session identity and returns the result together with outcome
// counts. Identity resolution never fails a request: any label that cannot
// be resolved keeps its local name.
//
// Labels are processed in order of first appearance in turns. For each label
// the longest turn (ties broken by earlier start) represents the voice; its
// embedding is matched against the session's profile centroids by cosine
// similarity. At or above [MatchThreshold] the label adopts the best
// profile's identity; below it a new speaker is minted, unless numSpeakers
// caps the session, in which case the nearest profile is reused or
// [FallbackSpeakerID] assigned. Embeddings of turns shorter than
// [MinPersistDuration] seconds match against profiles but are never added to
// them.
//
// The per-session lock is held for the whole call, so concurrent chunks of
// one session serialize here. An empty turn list returns immediately without
// touching the session.
func (r *Resolver) Assign(ctx context.Context, sessionID, audioPath string, turns []diarizer.Turn, numSpeakers int) ([]diarizer.Turn, Stats) {
	var stats Stats
	if len(turns) == 0 {
		return turns, stats
	}

	unlock := r.store.LockSession(sessionID)
	defer unlock()

	labels, buckets := groupByLabel(turns)
	mapping := make(map[string]string, len(labels))

	for _, label := range labels {
		rep := representative(buckets[label])
		dur := rep.End - rep.Start
		if dur < MinEmbedDuration {
			mapping[label] = label
			stats.Passthrough++
			continue
		}

		emb, err := r.embedder.Embed(ctx, audioPath, rep.Start, rep.End)
		if err != nil {
			slog.Warn("embedding extraction failed, keeping local label",
				"session_id", sessionID, "label", label, "error", err)
			mapping[label] = label
			stats.Passthrough++
			continue
		}

		profiles := r.store.GetOrCreate(sessionID)
		bestID, bestSim := bestMatch(profiles, emb)

		switch {
		case bestID != "" && bestSim >= MatchThreshold:
			mapping[label] = bestID
			stats.Matched++
			if dur >= MinPersistDuration {
				r.store.Upsert(sessionID, bestID, emb, dur)
			}
			slog.Debug("label matched existing speaker",
				"session_id", sessionID, "label", label,
				"speaker_id", bestID, "similarity", bestSim)

		case numSpeakers > 0 && len(profiles) >= numSpeakers:
			// At the caller's cap no new identity may be minted, and a
			// below-threshold assignment must not contaminate the profile.
			id := bestID
			if id == "" {
				id = FallbackSpeakerID
			}
			mapping[label] = id
			stats.Forced++
			slog.Debug("session at speaker cap, forcing nearest match",
				"session_id", sessionID, "label", label,
				"speaker_id", id, "similarity", bestSim)

		default:
			id := r.store.NextSpeakerID(sessionID)
			mapping[label] = id
			stats.Created++
			if dur >= MinPersistDuration {
				r.store.Upsert(sessionID, id, emb, dur)
			}
			slog.Info("new session speaker",
				"session_id", sessionID, "label", label,
				"speaker_id", id, "best_similarity", bestSim)
		}
	}

	out := make([]diarizer.Turn, len(turns))
	for i, t := range turns {
		t.Speaker = mapping[t.Speaker]
		out[i] = t
	}

	if err := r.store.Save(sessionID); err != nil {
		slog.Error("session snapshot save failed",
			"session_id", sessionID, "error", err)
	}
	return out, stats
}

// groupByLabel buckets turns by their local speaker label, preserving the
// order in which labels first appear.
func groupByLabel(turns []diarizer.Turn) ([]string, map[string][]diarizer.Turn) {
	labels := make([]string, 0, 4)
	buckets := make(map[string][]diarizer.Turn, 4)
	for _, t := range turns {
		if _, ok := buckets[t.Speaker]; !ok {
			labels = append(labels, t.Speaker)
		}
		buckets[t.Speaker] = append(buckets[t.Speaker], t)
	}
	return labels, buckets
}

// representative picks the turn that best captures a label's voice: the
// longest one, with ties going to the earlier start.
func representative(turns []diarizer.Turn) diarizer.Turn {
	best := turns[0]
	bestDur := best.End - best.Start
	for _, t := range turns[1:] {
		dur := t.End - t.Start
		if dur > bestDur || (dur == bestDur && t.Start < best.Start) {
			best, bestDur = t, dur
		}
	}
	return best
}

// bestMatch scans the profiles in speaker-identifier order and returns the
// one whose centroid is most similar to the embedding. Profiles are only
// candidates at strictly positive similarity; with none, or with an empty
// session, the returned identifier is empty.
func bestMatch(profiles map[string]*Profile, embedding []float64) (string, float64) {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bestID, bestSim := "", 0.0
	for _, id := range ids {
		sim := Cosine(profiles[id].Centroid(), embedding)
		if sim > bestSim {
			bestID, bestSim = id, sim
		}
	}
	return bestID, bestSim
}
