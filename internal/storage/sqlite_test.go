package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/embedsim/internal/models"
)

func TestSQLiteCatalog_RunLifecycle(t *testing.T) {
	dir := t.TempDir()
	cat, err := NewSQLiteCatalog(filepath.Join(dir, "db", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx := context.Background()

	run := &RunRecord{
		ID: "run-1", Input: "association.json", Fingerprint: "sha256:abc",
		Seed: 1 << 63, SampleSize: 50, Dimension: 4, TracksTotal: 4, TracksSampled: 2,
		IntraPath: "intra.npy", InterPath: "inter.npy",
	}
	if err := cat.BeginRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.StartedAt.IsZero() || run.Status != models.RunRunning {
		t.Errorf("BeginRun should set start time and status: %+v", run)
	}
	if err := cat.BeginRun(ctx, &RunRecord{ID: "run-2"}); err == nil {
		t.Error("second BeginRun while active should fail")
	}

	refs := []ChunkRef{
		{Kind: models.KindIntra, Ordinal: 0, I: 0, J: 0, TrackA: "a", TrackB: "a", Offset: 0, Count: 3},
		{Kind: models.KindInter, Ordinal: 0, I: 0, J: 1, TrackA: "a", TrackB: "b", Offset: 0, Count: 9},
		{Kind: models.KindIntra, Ordinal: 1, I: 1, J: 1, TrackA: "b", TrackB: "b", Offset: 152, Count: 3},
	}
	for _, ref := range refs {
		if err := cat.RecordChunk(ctx, "run-1", ref); err != nil {
			t.Fatal(err)
		}
	}
	if err := cat.RecordChunk(ctx, "other", refs[0]); err == nil {
		t.Error("RecordChunk for inactive run should fail")
	}
	if err := cat.FinishRun(ctx, "run-1", models.RunCompleted); err != nil {
		t.Fatal(err)
	}

	got, err := cat.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RunCompleted || got.Seed != 1<<63 || got.FinishedAt.IsZero() {
		t.Errorf("GetRun = %+v", got)
	}
	latest, err := cat.LatestRun(ctx)
	if err != nil || latest.ID != "run-1" {
		t.Errorf("LatestRun = %+v, %v", latest, err)
	}

	intra, err := cat.ListChunks(ctx, "run-1", models.KindIntra)
	if err != nil {
		t.Fatal(err)
	}
	if len(intra) != 2 || intra[1].Offset != 152 || intra[1].TrackA != "b" {
		t.Errorf("ListChunks(intra) = %+v", intra)
	}

	ref, err := cat.LookupChunk(ctx, "run-1", "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Kind != models.KindInter || ref.Count != 9 {
		t.Errorf("LookupChunk(b, a) = %+v", ref)
	}
	if _, err := cat.LookupChunk(ctx, "run-1", "a", "z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupChunk(a, z) err = %v, want ErrNotFound", err)
	}
	if _, err := cat.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteCatalog_AbortedRunKeepsChunks(t *testing.T) {
	cat, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx, cancel := context.WithCancel(context.Background())

	if err := cat.BeginRun(ctx, &RunRecord{ID: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := cat.RecordChunk(ctx, "r", ChunkRef{Kind: models.KindIntra, TrackA: "a", TrackB: "a"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := cat.FinishRun(ctx, "r", models.RunAborted); err != nil {
		t.Fatal(err)
	}
	run, err := cat.GetRun(context.Background(), "r")
	if err != nil || run.Status != models.RunAborted {
		t.Fatalf("run = %+v, %v", run, err)
	}
	chunks, _ := cat.ListChunks(context.Background(), "r", models.KindIntra)
	if len(chunks) != 1 {
		t.Errorf("aborted run kept %d chunks, want 1", len(chunks))
	}
}

func TestSQLiteCatalog_ListRuns(t *testing.T) {
	cat, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx := context.Background()

	if _, err := cat.LatestRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRun on empty catalog err = %v", err)
	}
	runs, err := cat.ListRuns(ctx, 0)
	if err != nil || len(runs) != 0 {
		t.Fatalf("ListRuns(empty) = %v, %v", runs, err)
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		run := &RunRecord{ID: id, StartedAt: start.Add(time.Duration(i) * time.Minute)}
		if err := cat.BeginRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if err := cat.FinishRun(ctx, id, models.RunCompleted); err != nil {
			t.Fatal(err)
		}
	}

	runs, err = cat.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "third" || runs[1].ID != "second" {
		t.Errorf("ListRuns(2) = %+v", runs)
	}
	runs, err = cat.ListRuns(ctx, 0)
	if err != nil || len(runs) != 3 {
		t.Errorf("ListRuns(0) = %d runs, %v", len(runs), err)
	}
}

func TestSQLiteCatalog_CreateModeSupersedesSharedStreams(t *testing.T) {
	cat, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx := context.Background()

	start := time.Now()
	runs := []*RunRecord{
		{ID: "first", IntraPath: "out/intra.npy", InterPath: "out/inter.npy", Mode: ModeCreate},
		{ID: "appended", IntraPath: "out/intra.npy", InterPath: "out/inter.npy", Mode: ModeAppend},
		{ID: "elsewhere", IntraPath: "other/intra.npy", InterPath: "other/inter.npy", Mode: ModeCreate},
		{ID: "rewrite", IntraPath: "out/intra.npy", InterPath: "out/inter.npy", Mode: ModeCreate},
	}
	for i, run := range runs {
		run.StartedAt = start.Add(time.Duration(i) * time.Second)
		if err := cat.BeginRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if err := cat.FinishRun(ctx, run.ID, models.RunCompleted); err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			if got, _ := cat.GetRun(ctx, "first"); got.SupersededBy != "" {
				t.Errorf("append run superseded first: %q", got.SupersededBy)
			}
		}
	}

	want := map[string]string{"first": "rewrite", "appended": "rewrite", "elsewhere": "", "rewrite": ""}
	for id, by := range want {
		got, err := cat.GetRun(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.SupersededBy != by {
			t.Errorf("%s superseded_by = %q, want %q", id, got.SupersededBy, by)
		}
	}
	if got, _ := cat.GetRun(ctx, "appended"); got.Mode != ModeAppend {
		t.Errorf("appended mode = %v", got.Mode)
	}
	old, _ := cat.GetRun(ctx, "first")
	if _, err := ReadSample(old, &ChunkRef{Kind: models.KindIntra}); !errors.Is(err, ErrSuperseded) {
		t.Errorf("ReadSample err = %v, want ErrSuperseded", err)
	}
}

func TestNewSQLiteCatalog_AddsMissingRunColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, input TEXT NOT NULL, fingerprint TEXT, seed TEXT NOT NULL,
		sample_size INTEGER NOT NULL, dimension INTEGER NOT NULL, tracks_total INTEGER NOT NULL,
		tracks_sampled INTEGER NOT NULL, intra_path TEXT NOT NULL, inter_path TEXT NOT NULL,
		status TEXT NOT NULL, started_at TIMESTAMP NOT NULL, finished_at TIMESTAMP);
	INSERT INTO runs VALUES ('legacy', 'in.json', '', '5', 2, 4, 2, 2, 'intra.npy', 'inter.npy',
		'completed', CURRENT_TIMESTAMP, NULL);`)
	db.Close()
	if err != nil {
		t.Fatal(err)
	}

	cat, err := NewSQLiteCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	run, err := cat.GetRun(context.Background(), "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if run.Mode != ModeCreate || run.SupersededBy != "" || run.Seed != 5 {
		t.Errorf("legacy run = %+v", run)
	}
}
