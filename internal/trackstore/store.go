// Package trackstore holds tracks keyed by their composite sequence/track key in first-seen order.
package trackstore

import (
	"github.com/hyperjump/embedsim/internal/models"
)

// Store maps composite track keys to tracks. Keys keep first-insertion order so that
// iteration, and therefore sampling, is deterministic for a given document.
type Store struct {
	keys      []string
	tracks    map[string]*models.Track
	retain    func(key string) bool
	dimension int
}

// Option configures a Store.
type Option func(*Store)

// WithRetain limits which tracks keep their vectors. Tracks rejected by fn are still
// registered and their frames counted, so the store doubles as a lightweight index.
func WithRetain(fn func(key string) bool) Option {
	return func(s *Store) { s.retain = fn }
}

// CountOnly keeps no vectors at all.
func CountOnly() Option {
	return WithRetain(func(string) bool { return false })
}

// New creates an empty store. By default every track retains its vectors.
func New(opts ...Option) *Store {
	s := &Store{tracks: make(map[string]*models.Track)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a parsed record's frames to its track, creating the track on first sight.
func (s *Store) Add(rec *models.TrackFrames) {
	key := rec.Key()
	t, ok := s.tracks[key]
	if !ok {
		t = &models.Track{Key: key, SequenceID: rec.SequenceID, TrackID: rec.TrackID}
		s.tracks[key] = t
		s.keys = append(s.keys, key)
	}
	t.Frames += len(rec.Vectors)
	if len(rec.Vectors) > 0 && s.dimension == 0 {
		s.dimension = len(rec.Vectors[0])
	}
	if s.retain == nil || s.retain(key) {
		t.Vectors = append(t.Vectors, rec.Vectors...)
	}
}

// Get returns the track for key.
func (s *Store) Get(key string) (*models.Track, bool) {
	t, ok := s.tracks[key]
	return t, ok
}

// Keys returns all keys in first-insertion order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Eligible returns the keys of non-empty tracks in first-insertion order.
func (s *Store) Eligible() []string {
	out := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		if !s.tracks[k].Empty() {
			out = append(out, k)
		}
	}
	return out
}

// Empty returns the keys of tracks that have no frames.
func (s *Store) Empty() []string {
	var out []string
	for _, k := range s.keys {
		if s.tracks[k].Empty() {
			out = append(out, k)
		}
	}
	return out
}

// Tracks returns the tracks for keys in the given order, skipping unknown keys.
func (s *Store) Tracks(keys []string) []*models.Track {
	out := make([]*models.Track, 0, len(keys))
	for _, k := range keys {
		if t, ok := s.tracks[k]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of distinct tracks.
func (s *Store) Len() int {
	return len(s.keys)
}

// Dimension returns the vector dimension seen by the store, or 0 before any vector.
func (s *Store) Dimension() int {
	return s.dimension
}
