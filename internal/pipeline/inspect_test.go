package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/hyperjump/embedsim/internal/config"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/storage"
)

func TestInspect_MatchesRecordedHistograms(t *testing.T) {
	cfg := testConfig(t, writeInput(t, fourTracks))
	summary := analyze(t, cfg)

	ins, err := NewRunner(cfg).Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ins.Consistent || ins.Truncated {
		t.Errorf("consistent=%v truncated=%v", ins.Consistent, ins.Truncated)
	}
	if ins.RunID != summary.RunID || ins.Status != models.RunCompleted {
		t.Errorf("run = %s/%s", ins.RunID, ins.Status)
	}
	if ins.IntraChunks != 4 || ins.InterChunks != 6 || ins.InterValues != 54 {
		t.Errorf("inspection = %+v", ins)
	}
}

func TestInspect_AppendModeCountsLatestRun(t *testing.T) {
	cfg := testConfig(t, writeInput(t, fourTracks))
	cfg.Output.Mode = "append"
	analyze(t, cfg)
	analyze(t, cfg)

	ins, err := NewRunner(cfg).Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ins.IntraChunks != 4 || ins.InterChunks != 6 {
		t.Errorf("chunks = %d/%d, want one run's worth", ins.IntraChunks, ins.InterChunks)
	}
	if !ins.Consistent {
		t.Errorf("recomputed %v, recorded %v", ins.Recomputed.Inter, ins.Recorded.Inter)
	}
}

func TestInspect_TruncatedStream(t *testing.T) {
	cfg := testConfig(t, writeInput(t, fourTracks))
	summary := analyze(t, cfg)

	path := summary.Artifacts.InterPath
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-5); err != nil {
		t.Fatal(err)
	}
	ins, err := NewRunner(cfg).Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ins.Truncated || ins.Consistent || ins.InterChunks != 5 {
		t.Errorf("truncated=%v consistent=%v inter=%d", ins.Truncated, ins.Consistent, ins.InterChunks)
	}
}

func TestPair(t *testing.T) {
	cfg := testConfig(t, writeInput(t, fourTracks))
	analyze(t, cfg)
	r := NewRunner(cfg)

	ref, values, err := r.Pair(context.Background(), "B_track1", "A_track1")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Kind != models.KindInter || len(values) != 9 {
		t.Fatalf("ref = %+v, %d values", ref, len(values))
	}
	for _, v := range values {
		if math.Abs(v-1/math.Sqrt2) > 1e-6 {
			t.Errorf("value %v, want 1/sqrt(2)", v)
		}
	}

	ref, values, err = r.Pair(context.Background(), "A_track2", "A_track2")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Kind != models.KindIntra || len(values) != 3 {
		t.Errorf("intra ref = %+v, %d values", ref, len(values))
	}

	if _, _, err := r.Pair(context.Background(), "A_track1", "missing"); err == nil {
		t.Error("expected error for unknown pair")
	}
}

// cancelledRun starts a run over cfg that is cancelled after its first row of pairs.
func cancelledRun(t *testing.T, cfg *config.Config) *models.RunSummary {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summary, err := NewRunner(cfg, WithLogger(cancelOn("track done", cancel))).Analyze(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	return summary
}

func TestInspect_AfterCancelledRun(t *testing.T) {
	for _, mode := range []string{"create", "append"} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig(t, writeInput(t, fourTracks))
			cfg.Output.Mode = mode
			analyze(t, cfg)
			aborted := cancelledRun(t, cfg)

			ins, err := NewRunner(cfg).Inspect(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if ins.RunID != aborted.RunID || ins.Status != models.RunAborted {
				t.Errorf("run = %s/%s, want %s/aborted", ins.RunID, ins.Status, aborted.RunID)
			}
			if ins.IntraChunks != 1 || ins.InterChunks != 3 {
				t.Errorf("chunks = %d/%d, want 1/3", ins.IntraChunks, ins.InterChunks)
			}
			if ins.Recorded != nil || ins.Consistent {
				t.Errorf("compared against histograms of another run: recorded=%+v", ins.Recorded)
			}
		})
	}
}

func TestAnalyze_CreateModeSupersedesEarlierRuns(t *testing.T) {
	cfg := testConfig(t, writeInput(t, fourTracks))
	first := analyze(t, cfg)
	second := analyze(t, cfg)

	cat, err := storage.NewSQLiteCatalog(second.Artifacts.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	run, err := cat.GetRun(context.Background(), first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.SupersededBy != second.RunID {
		t.Errorf("superseded_by = %q, want %q", run.SupersededBy, second.RunID)
	}
	ref, err := cat.LookupChunk(context.Background(), first.RunID, "A_track1", "A_track1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := storage.ReadSample(run, ref); !errors.Is(err, storage.ErrSuperseded) {
		t.Errorf("ReadSample of superseded run: %v", err)
	}
}
