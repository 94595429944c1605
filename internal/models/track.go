// Package models defines core data structures for tracks, similarity samples, and run summaries.
package models

import "fmt"

// Vector is a single per-frame embedding.
type Vector []float32

// Track is one tracked object's ordered list of per-frame embeddings.
// Frames counts every frame seen for the key; Vectors holds them only when the
// store retains this track (see trackstore.WithRetain).
type Track struct {
	Key        string   `json:"key"`
	SequenceID string   `json:"sequence_id"`
	TrackID    string   `json:"track_id"`
	Frames     int      `json:"frames"`
	Vectors    []Vector `json:"-"`
}

// Empty reports whether the track has no frames and must be excluded from similarity work.
func (t *Track) Empty() bool {
	return t.Frames == 0
}

// TrackFrames is one parsed track record: the frames that a single document entry
// contributes to a track. A record with no vectors still registers the key.
type TrackFrames struct {
	SequenceID string
	TrackID    string
	Vectors    []Vector
}

// Key returns the composite track key for the record.
func (f *TrackFrames) Key() string {
	return TrackKey(f.SequenceID, f.TrackID)
}

// TrackKey builds the composite key "<sequence>_track<id>" that identifies a track across sequences.
func TrackKey(sequenceID, trackID string) string {
	return fmt.Sprintf("%s_track%s", sequenceID, trackID)
}
