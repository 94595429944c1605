package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/embedsim/internal/config"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/pipeline"
	"github.com/hyperjump/embedsim/internal/report"
	"github.com/hyperjump/embedsim/internal/storage"
	"go.uber.org/zap"
)

const doc = `[{"SequenceID": "S", "Tracks": [
	{"Track ID": 1, "Feature Vector": [[1, 0], [1, 0]]},
	{"Track ID": 2, "Feature Vector": [[0, 1], [1, 1]]}
]}]`

// analyzeInto runs one analysis of document into dir/out and returns its config and summary.
func analyzeInto(t *testing.T, dir, document, mode string) (*config.Config, *models.RunSummary) {
	t.Helper()
	input := filepath.Join(dir, "association.json")
	if err := os.WriteFile(input, []byte(document), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Input.Path = input
	cfg.Output.Directory = filepath.Join(dir, "out")
	cfg.Output.Mode = mode
	seed := uint64(3)
	cfg.Sampling.Seed = &seed
	summary, err := pipeline.NewRunner(cfg).Analyze(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return cfg, summary
}

func serve(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	cat, err := storage.NewSQLiteCatalog(cfg.Output.Path(cfg.Output.Catalog))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	return NewServer(cat, cfg, zap.NewNop()).Router()
}

// newTestServer runs one analysis into a temp directory and serves its catalog.
func newTestServer(t *testing.T) (http.Handler, *models.RunSummary) {
	t.Helper()
	cfg, summary := analyzeInto(t, t.TempDir(), doc, "create")
	return serve(t, cfg), summary
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", target, err)
		}
	}
	return w.Code
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestServer(t)
	var out map[string]string
	if code := get(t, h, "/health", &out); code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health: %d %v", code, out)
	}
}

func TestHandleRuns(t *testing.T) {
	h, summary := newTestServer(t)

	var list struct {
		Runs []storage.RunRecord `json:"runs"`
	}
	if code := get(t, h, "/api/v1/runs", &list); code != http.StatusOK {
		t.Fatalf("list runs: %d", code)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != summary.RunID || list.Runs[0].Seed != 3 {
		t.Errorf("runs = %+v", list.Runs)
	}

	var run storage.RunRecord
	if code := get(t, h, "/api/v1/runs/latest", &run); code != http.StatusOK || run.ID != summary.RunID {
		t.Errorf("latest: %d %+v", code, run)
	}
	if code := get(t, h, "/api/v1/runs/"+summary.RunID, &run); code != http.StatusOK || run.Status != models.RunCompleted {
		t.Errorf("get run: %d %+v", code, run)
	}
	if code := get(t, h, "/api/v1/runs/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing run: %d", code)
	}
	if code := get(t, h, "/api/v1/runs?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", code)
	}
}

func TestHandleListChunks(t *testing.T) {
	h, summary := newTestServer(t)

	var all map[string][]storage.ChunkRef
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/chunks", &all); code != http.StatusOK {
		t.Fatalf("chunks: %d", code)
	}
	if len(all["intra"]) != 2 || len(all["inter"]) != 1 {
		t.Errorf("chunks = %+v", all)
	}
	if all["inter"][0].Kind != models.KindInter || all["inter"][0].Count != 4 {
		t.Errorf("inter chunk = %+v", all["inter"][0])
	}

	var inter map[string][]storage.ChunkRef
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/chunks?kind=inter", &inter); code != http.StatusOK {
		t.Fatalf("inter chunks: %d", code)
	}
	if _, ok := inter["intra"]; ok || len(inter["inter"]) != 1 {
		t.Errorf("kind filter = %+v", inter)
	}
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/chunks?kind=both", nil); code != http.StatusBadRequest {
		t.Errorf("bad kind: %d", code)
	}
}

func TestHandlePair(t *testing.T) {
	h, summary := newTestServer(t)

	var out pairResponse
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/pair?a=S_track1&b=S_track1", &out); code != http.StatusOK {
		t.Fatalf("pair: %d", code)
	}
	if out.Chunk.Kind != models.KindIntra || len(out.Values) != 1 || out.Values[0] != 1 {
		t.Errorf("intra pair = %+v", out)
	}

	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/pair?a=S_track2&b=S_track1", &out); code != http.StatusOK {
		t.Fatalf("pair: %d", code)
	}
	if out.Chunk.Kind != models.KindInter || len(out.Values) != 4 {
		t.Errorf("inter pair = %+v", out)
	}

	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/pair?a=S_track1", nil); code != http.StatusBadRequest {
		t.Errorf("missing b: %d", code)
	}
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/pair?a=S_track1&b=S_track9", nil); code != http.StatusNotFound {
		t.Errorf("unknown track: %d", code)
	}
}

func TestHandleHistograms(t *testing.T) {
	h, summary := newTestServer(t)

	var out models.Histograms
	if code := get(t, h, "/api/v1/histograms", &out); code != http.StatusOK {
		t.Fatalf("histograms: %d", code)
	}
	if len(out.Edges) != 21 || out.Intra[19] != summary.Histograms.Intra[19] {
		t.Errorf("histograms = %+v", out)
	}
}

func TestHandleHistograms_missing(t *testing.T) {
	cat, err := storage.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	h := NewServer(cat, cfg, zap.NewNop()).Router()

	if code := get(t, h, "/api/v1/histograms", nil); code != http.StatusNotFound {
		t.Errorf("histograms: %d", code)
	}
	if code := get(t, h, "/api/v1/runs/latest", nil); code != http.StatusNotFound {
		t.Errorf("latest on empty catalog: %d", code)
	}
}

func TestHandlePair_servedFromCache(t *testing.T) {
	h, summary := newTestServer(t)
	target := "/api/v1/runs/" + summary.RunID + "/pair?a=S_track2&b=S_track2"

	var first pairResponse
	if code := get(t, h, target, &first); code != http.StatusOK {
		t.Fatalf("pair: %d", code)
	}
	if err := os.Remove(summary.Artifacts.IntraPath); err != nil {
		t.Fatal(err)
	}
	var second pairResponse
	if code := get(t, h, target, &second); code != http.StatusOK {
		t.Fatalf("cached pair: %d", code)
	}
	if len(second.Values) != 1 || second.Values[0] != first.Values[0] {
		t.Errorf("cached values %v, want %v", second.Values, first.Values)
	}
	if code := get(t, h, "/api/v1/runs/"+summary.RunID+"/pair?a=S_track1&b=S_track1", nil); code != http.StatusInternalServerError {
		t.Errorf("uncached chunk of a removed stream: %d", code)
	}
}

// rotated has the same tracks as doc, but S_track1's frames are orthogonal.
const rotated = `[{"SequenceID": "S", "Tracks": [
	{"Track ID": 1, "Feature Vector": [[1, 0], [0, 1]]},
	{"Track ID": 2, "Feature Vector": [[0, 1], [1, 1]]}
]}]`

func TestHandlePair_rewrittenStreams(t *testing.T) {
	dir := t.TempDir()
	_, first := analyzeInto(t, dir, doc, "create")
	cfg, second := analyzeInto(t, dir, rotated, "create")
	h := serve(t, cfg)

	var run storage.RunRecord
	if code := get(t, h, "/api/v1/runs/"+first.RunID, &run); code != http.StatusOK || run.SupersededBy != second.RunID {
		t.Errorf("first run: %d superseded_by=%q, want %q", code, run.SupersededBy, second.RunID)
	}
	if code := get(t, h, "/api/v1/runs/"+first.RunID+"/pair?a=S_track1&b=S_track1", nil); code != http.StatusGone {
		t.Errorf("pair of rewritten run: %d, want %d", code, http.StatusGone)
	}

	var out pairResponse
	if code := get(t, h, "/api/v1/runs/"+second.RunID+"/pair?a=S_track1&b=S_track1", &out); code != http.StatusOK {
		t.Fatalf("pair of latest run: %d", code)
	}
	if len(out.Values) != 1 || out.Values[0] != 0 {
		t.Errorf("latest intra pair = %v, want [0]", out.Values)
	}
}

func TestHandlePair_appendKeepsEarlierRuns(t *testing.T) {
	dir := t.TempDir()
	_, first := analyzeInto(t, dir, doc, "create")
	cfg, _ := analyzeInto(t, dir, rotated, "append")
	h := serve(t, cfg)

	var out pairResponse
	if code := get(t, h, "/api/v1/runs/"+first.RunID+"/pair?a=S_track1&b=S_track1", &out); code != http.StatusOK {
		t.Fatalf("pair of first run: %d", code)
	}
	if len(out.Values) != 1 || out.Values[0] != 1 {
		t.Errorf("first intra pair = %v, want [1]", out.Values)
	}
}

func TestHandleHistograms_otherRun(t *testing.T) {
	cfg, first := analyzeInto(t, t.TempDir(), doc, "create")
	h := serve(t, cfg)

	// An append-mode run that stops before writing reports leaves an earlier run's file behind.
	path := cfg.Output.Path(cfg.Output.HistogramJSON)
	stale := *first.Histograms
	stale.RunID = "earlier-run"
	if err := report.WriteJSON(path, &stale); err != nil {
		t.Fatal(err)
	}
	if code := get(t, h, "/api/v1/histograms", nil); code != http.StatusNotFound {
		t.Errorf("histograms of another run: %d, want %d", code, http.StatusNotFound)
	}
}
