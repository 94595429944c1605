package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/embedsim/internal/models"
)

// ErrNotFound is returned when a run or chunk is not in the catalog.
var ErrNotFound = errors.New("not found")

// ErrSuperseded is returned when a run's streams were truncated and rewritten by a later
// create-mode run, so its recorded offsets no longer point at its own chunks.
var ErrSuperseded = errors.New("streams rewritten")

// RunRecord is the catalog row for one analysis run.
type RunRecord struct {
	ID            string           `json:"id"`
	Input         string           `json:"input"`
	Fingerprint   string           `json:"fingerprint"`
	Seed          uint64           `json:"seed"`
	SampleSize    int              `json:"sample_size"`
	Dimension     int              `json:"dimension"`
	TracksTotal   int              `json:"tracks_total"`
	TracksSampled int              `json:"tracks_sampled"`
	IntraPath     string           `json:"intra_path"`
	InterPath     string           `json:"inter_path"`
	Mode          OpenMode         `json:"mode"`
	Status        models.RunStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	SupersededBy  string           `json:"superseded_by,omitempty"`
}

// StreamPath returns the stream holding chunks of kind.
func (r *RunRecord) StreamPath(kind models.Kind) string {
	if kind == models.KindIntra {
		return r.IntraPath
	}
	return r.InterPath
}

// Catalog records runs and the location of every chunk they wrote, so a sample can be
// found again by its (run, track pair) key.
type Catalog interface {
	// Run operations. BeginRun in create mode marks earlier runs sharing a stream path
	// as superseded.
	BeginRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, runID string, status models.RunStatus) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	LatestRun(ctx context.Context) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Chunk operations
	RecordChunk(ctx context.Context, runID string, ref ChunkRef) error
	ListChunks(ctx context.Context, runID string, kind models.Kind) ([]ChunkRef, error)
	LookupChunk(ctx context.Context, runID, trackA, trackB string) (*ChunkRef, error)

	Close() error
}
