package models

import "time"

// Histograms are the final bin counts handed to visualization.
// len(Edges) == len(Intra)+1 == len(Inter)+1.
type Histograms struct {
	RunID string    `json:"run_id,omitempty"`
	Edges []float64 `json:"bin_edges"`
	Intra []int64   `json:"intra_counts"`
	Inter []int64   `json:"inter_counts"`
}

// RunStatus is the lifecycle state recorded for a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// Artifacts lists the files a run produced.
type Artifacts struct {
	Directory     string `json:"directory"`
	IntraPath     string `json:"intra_path"`
	InterPath     string `json:"inter_path"`
	CatalogPath   string `json:"catalog_path,omitempty"`
	HistogramJSON string `json:"histogram_json,omitempty"`
	HistogramXLSX string `json:"histogram_xlsx,omitempty"`
	BytesWritten  int64  `json:"bytes_written"`
}

// RunSummary describes a finished analysis run.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	Status         RunStatus   `json:"status"`
	Input          string      `json:"input"`
	Fingerprint    string      `json:"fingerprint"`
	Seed           uint64      `json:"seed"`
	SampleSize     int         `json:"sample_size"`
	Dimension      int         `json:"dimension"`
	TracksTotal    int         `json:"tracks_total"`
	TracksEligible int         `json:"tracks_eligible"`
	TracksSampled  int         `json:"tracks_sampled"`
	IntraChunks    int         `json:"intra_chunks"`
	InterChunks    int         `json:"inter_chunks"`
	IntraValues    int64       `json:"intra_values"`
	InterValues    int64       `json:"inter_values"`
	Histograms     *Histograms `json:"histograms"`
	Artifacts      Artifacts   `json:"artifacts"`
	StartedAt      time.Time   `json:"started_at"`
	Duration       int64       `json:"duration_ms"`
}
