package speaker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Summary is the externally visible view of one speaker profile.
type Summary struct {
	ID             string  `json:"speaker_id"`
	TotalDuration  float64 `json:"total_duration"`
	ChunkCount     int     `json:"chunk_count"`
	EmbeddingCount int     `json:"embedding_count"`
}

// Store owns all speaker profiles, grouped by session, and their snapshot
// files on disk. Sessions are materialized lazily: the first access to an
// unknown session tries to restore it from a snapshot before starting empty.
//
// All mutating access to one session's profiles must be serialized through
// that session's lock, obtained with [Store.LockSession]. The registry lock
// guarding the session maps is internal and never held across I/O.
type Store struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Profile
	locks    map[string]*sync.Mutex

	persistDir string // empty disables persistence

	// notify, when set, is called with +1 for every materialized session and
	// -1 for every cleared one. Used to feed a sessions gauge.
	notify func(delta int64)
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithSessionNotify registers a callback invoked with the session count delta
// whenever a session is materialized (+1) or cleared (-1). The callback runs
// with the registry lock held and must not call back into the store.
func WithSessionNotify(fn func(delta int64)) StoreOption {
	return func(s *Store) { s.notify = fn }
}

// NewStore creates a store persisting session snapshots under persistDir.
// An empty persistDir yields a purely in-memory store.
func NewStore(persistDir string, opts ...StoreOption) (*Store, error) {
	if persistDir != "" {
		if err := os.MkdirAll(persistDir, 0o755); err != nil {
			return nil, fmt.Errorf("speaker: create persist dir: %w", err)
		}
	}
	s := &Store{
		sessions:   make(map[string]map[string]*Profile),
		locks:      make(map[string]*sync.Mutex),
		persistDir: persistDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LockSession acquires the per-session mutex and returns the matching unlock
// function. Exactly one chunk per session is resolved at a time; chunks of
// different sessions proceed in parallel.
func (s *Store) LockSession(sessionID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetOrCreate returns the profile map for sessionID, restoring it from a
// snapshot on first access or starting empty when none exists. The caller
// must hold the session lock.
func (s *Store) GetOrCreate(sessionID string) map[string]*Profile {
	s.mu.Lock()
	profiles, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		return profiles
	}

	profiles = s.loadSnapshot(sessionID)
	if profiles == nil {
		profiles = make(map[string]*Profile)
		slog.Debug("created new session", "session_id", sessionID)
	} else {
		slog.Info("restored session from snapshot",
			"session_id", sessionID, "speakers", len(profiles))
	}

	s.mu.Lock()
	s.sessions[sessionID] = profiles
	if s.notify != nil {
		s.notify(1)
	}
	s.mu.Unlock()
	return profiles
}

// NextSpeakerID returns the identifier a newly discovered speaker in the
// session would receive: SPEAKER_NN where NN is the current speaker count.
// The caller must hold the session lock.
func (s *Store) NextSpeakerID(sessionID string) string {
	return fmt.Sprintf("SPEAKER_%02d", len(s.GetOrCreate(sessionID)))
}

// Upsert records an embedding and its observed duration under the given
// speaker, creating the profile if needed. The caller must hold the session
// lock.
func (s *Store) Upsert(sessionID, speakerID string, embedding []float64, duration float64) {
	profiles := s.GetOrCreate(sessionID)
	p, ok := profiles[speakerID]
	if !ok {
		p = NewProfile(speakerID)
		profiles[speakerID] = p
	}
	p.AddEmbedding(embedding, duration)
}

// Save writes the session's snapshot to disk atomically. It is a no-op for
// in-memory stores and for sessions that were never materialized. The caller
// must hold the session lock.
func (s *Store) Save(sessionID string) error {
	if s.persistDir == "" {
		return nil
	}
	s.mu.Lock()
	profiles, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := encodeSnapshot(profiles)
	if err != nil {
		return fmt.Errorf("speaker: encode snapshot for %q: %w", sessionID, err)
	}

	path := s.snapshotPath(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("speaker: write snapshot for %q: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("speaker: replace snapshot for %q: %w", sessionID, err)
	}
	return nil
}

// SaveAll flushes every materialized session, typically during shutdown.
// Failures are logged per session; the last one is returned.
func (s *Store) SaveAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var last error
	for _, id := range ids {
		unlock := s.LockSession(id)
		if err := s.Save(id); err != nil {
			slog.Error("session flush failed", "session_id", id, "error", err)
			last = err
		}
		unlock()
	}
	return last
}

// Clear forgets all profiles of a session, in memory and on disk. Clearing a
// session that does not exist is not an error.
func (s *Store) Clear(sessionID string) error {
	unlock := s.LockSession(sessionID)
	defer unlock()

	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		if s.notify != nil {
			s.notify(-1)
		}
	}
	s.mu.Unlock()

	if s.persistDir == "" {
		return nil
	}
	if err := os.Remove(s.snapshotPath(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("speaker: remove snapshot for %q: %w", sessionID, err)
	}
	return nil
}

// Speakers returns summaries of the session's profiles ordered by speaker
// identifier. Accessing an unknown session materializes it (restoring any
// snapshot), so the result reflects persisted state as well.
func (s *Store) Speakers(sessionID string) []Summary {
	unlock := s.LockSession(sessionID)
	defer unlock()

	profiles := s.GetOrCreate(sessionID)
	out := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Summary{
			ID:             p.ID,
			TotalDuration:  p.TotalDuration,
			ChunkCount:     p.ChunkCount,
			EmbeddingCount: p.EmbeddingCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// loadSnapshot restores a session's profiles from disk, or returns nil when
// persistence is disabled, no snapshot exists, or the snapshot is unreadable.
// A corrupt snapshot is logged and treated as absent rather than failing the
// request.
func (s *Store) loadSnapshot(sessionID string) map[string]*Profile {
	if s.persistDir == "" {
		return nil
	}
	path := s.snapshotPath(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("snapshot unreadable, starting session empty",
				"session_id", sessionID, "path", path, "error", err)
		}
		return nil
	}
	profiles, err := decodeSnapshot(data)
	if err != nil {
		slog.Warn("snapshot corrupt, starting session empty",
			"session_id", sessionID, "path", path, "error", err)
		return nil
	}
	return profiles
}

func (s *Store) snapshotPath(sessionID string) string {
	return filepath.Join(s.persistDir, sanitizeID(sessionID)+".json")
}

// sanitizeID maps a session identifier to a safe file name component.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
