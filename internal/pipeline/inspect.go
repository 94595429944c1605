package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/hyperjump/embedsim/internal/histogram"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/report"
	"github.com/hyperjump/embedsim/internal/storage"
	"go.uber.org/zap"
)

// Inspection is the result of re-reading a run's artifacts.
type Inspection struct {
	RunID       string             `json:"run_id,omitempty"`
	Status      models.RunStatus   `json:"status,omitempty"`
	IntraChunks int                `json:"intra_chunks"`
	InterChunks int                `json:"inter_chunks"`
	IntraValues int64              `json:"intra_values"`
	InterValues int64              `json:"inter_values"`
	Truncated   bool               `json:"truncated"`
	Recomputed  *models.Histograms `json:"recomputed"`
	Recorded    *models.Histograms `json:"recorded,omitempty"`
	Consistent  bool               `json:"consistent"`
}

// Inspect re-reads both streams, bins every value again, and compares the result with the
// recorded histograms. When the catalog knows the latest run, only that run's chunks count,
// and histograms recorded for a different run are not used as the baseline.
func (r *Runner) Inspect(ctx context.Context) (*Inspection, error) {
	out := r.cfg.Output
	ins := &Inspection{}

	var intraOffsets, interOffsets map[int64]bool
	if path := out.Path(out.Catalog); path != "" {
		if _, err := os.Stat(path); err == nil {
			cat, err := storage.NewSQLiteCatalog(path)
			if err != nil {
				return nil, err
			}
			defer cat.Close()
			run, err := cat.LatestRun(ctx)
			if err != nil {
				r.logger.Warn("catalog has no run; reading whole streams", zap.Error(err))
			} else {
				ins.RunID, ins.Status = run.ID, run.Status
				if intraOffsets, err = chunkOffsets(ctx, cat, run.ID, models.KindIntra); err != nil {
					return nil, err
				}
				if interOffsets, err = chunkOffsets(ctx, cat, run.ID, models.KindInter); err != nil {
					return nil, err
				}
			}
		}
	}

	edges := histogram.Edges(r.cfg.Histogram.Bins)
	if path := out.Path(out.HistogramJSON); path != "" {
		if _, err := os.Stat(path); err == nil {
			recorded, err := report.ReadJSON(path)
			if err != nil {
				return nil, err
			}
			if recorded.RunID != "" && ins.RunID != "" && recorded.RunID != ins.RunID {
				r.logger.Warn("recorded histograms belong to another run",
					zap.String("recorded_run", recorded.RunID), zap.String("latest_run", ins.RunID))
			} else {
				ins.Recorded = recorded
				edges = recorded.Edges
			}
		}
	}

	bins := len(edges) - 1
	ins.Recomputed = &models.Histograms{Edges: edges, Intra: make([]int64, bins), Inter: make([]int64, bins)}
	intra, err := scanStream(ctx, out.Path(out.IntraFile), edges, intraOffsets, ins.Recomputed.Intra)
	if err != nil {
		return nil, err
	}
	inter, err := scanStream(ctx, out.Path(out.InterFile), edges, interOffsets, ins.Recomputed.Inter)
	if err != nil {
		return nil, err
	}
	ins.IntraChunks, ins.IntraValues = intra.chunks, intra.values
	ins.InterChunks, ins.InterValues = inter.chunks, inter.values
	ins.Truncated = intra.truncated || inter.truncated
	if ins.Recorded != nil {
		ins.Consistent = slices.Equal(ins.Recorded.Intra, ins.Recomputed.Intra) &&
			slices.Equal(ins.Recorded.Inter, ins.Recomputed.Inter)
	}
	r.logger.Info("inspection done",
		zap.String("run_id", ins.RunID),
		zap.Int("intra_chunks", ins.IntraChunks),
		zap.Int("inter_chunks", ins.InterChunks),
		zap.Bool("truncated", ins.Truncated),
		zap.Bool("consistent", ins.Consistent),
	)
	return ins, nil
}

// Pair returns the chunk the latest run recorded for two tracks, read from its stream.
func (r *Runner) Pair(ctx context.Context, trackA, trackB string) (*storage.ChunkRef, []float64, error) {
	out := r.cfg.Output
	path := out.Path(out.Catalog)
	if path == "" {
		return nil, nil, errors.New("catalog is disabled")
	}
	cat, err := storage.NewSQLiteCatalog(path)
	if err != nil {
		return nil, nil, err
	}
	defer cat.Close()
	run, err := cat.LatestRun(ctx)
	if err != nil {
		return nil, nil, err
	}
	ref, err := cat.LookupChunk(ctx, run.ID, trackA, trackB)
	if err != nil {
		return nil, nil, err
	}
	values, err := storage.ReadSample(run, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("read chunk %s/%s: %w", trackA, trackB, err)
	}
	return ref, values, nil
}

func chunkOffsets(ctx context.Context, cat storage.Catalog, runID string, kind models.Kind) (map[int64]bool, error) {
	refs, err := cat.ListChunks(ctx, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s chunks: %w", kind, err)
	}
	offsets := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		offsets[ref.Offset] = true
	}
	return offsets, nil
}

type streamStats struct {
	chunks    int
	values    int64
	truncated bool
}

// scanStream bins every chunk of the stream into counts. A truncated tail ends the scan.
// A nil offsets set accepts every chunk.
func scanStream(ctx context.Context, path string, edges []float64, offsets map[int64]bool, counts []int64) (streamStats, error) {
	var st streamStats
	f, err := os.Open(path)
	if err != nil {
		return st, &models.IOError{Op: "open stream", Path: path, Err: err}
	}
	defer f.Close()

	cr := storage.NewChunkReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		offset := cr.Offset()
		values, err := cr.Next()
		if err == io.EOF {
			return st, nil
		}
		if errors.Is(err, storage.ErrTruncatedChunk) {
			st.truncated = true
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("%s: %w", path, err)
		}
		if offsets != nil && !offsets[offset] {
			continue
		}
		histogram.Add(counts, histogram.Count(edges, values))
		st.chunks++
		st.values += int64(len(values))
	}
}
