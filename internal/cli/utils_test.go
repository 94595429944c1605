package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/embedsim/internal/histogram"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/pipeline"
	"github.com/hyperjump/embedsim/internal/storage"
)

func testSummary() *models.RunSummary {
	edges := histogram.Edges(4)
	return &models.RunSummary{
		RunID:          "run-1",
		Status:         models.RunCompleted,
		Input:          "demos/association.json",
		Fingerprint:    "sha256:abc",
		Seed:           18446744073709551615,
		SampleSize:     50,
		Dimension:      128,
		TracksTotal:    10,
		TracksEligible: 9,
		TracksSampled:  9,
		IntraChunks:    9,
		InterChunks:    36,
		IntraValues:    120,
		InterValues:    4000,
		Histograms: &models.Histograms{
			Edges: edges,
			Intra: []int64{0, 0, 20, 100},
			Inter: []int64{3000, 900, 100, 0},
		},
		Artifacts: models.Artifacts{
			Directory:    "output",
			IntraPath:    "output/intra_similarities.npy",
			InterPath:    "output/inter_similarities.npy",
			BytesWritten: 2048,
		},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500,
	}
}

func TestWriteSummary_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, testSummary(), OutputJSON); err != nil {
		t.Fatalf("WriteSummary(json): %v", err)
	}
	var decoded models.RunSummary
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.RunID != "run-1" || decoded.Seed != 18446744073709551615 {
		t.Errorf("decoded run_id=%q seed=%d", decoded.RunID, decoded.Seed)
	}
	if decoded.Histograms == nil || len(decoded.Histograms.Edges) != 5 || decoded.Histograms.Inter[0] != 3000 {
		t.Errorf("decoded histograms = %+v", decoded.Histograms)
	}
}

func TestWriteSummary_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, testSummary(), OutputText); err != nil {
		t.Fatalf("WriteSummary(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{
		"Run run-1 completed in 1.5s",
		"Seed: 18446744073709551615",
		"9 sampled",
		"Inter: 36 samples, 4000 values",
		"output/inter_similarities.npy",
		"2.0 KiB",
		"[0.75, 1.00]",
		"[0.00, 0.25)",
	} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSummary_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, testSummary(), OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Run run-1") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteInspection_text(t *testing.T) {
	s := testSummary()
	ins := &pipeline.Inspection{
		RunID:       "run-1",
		Status:      models.RunAborted,
		IntraChunks: 2,
		InterChunks: 5,
		Truncated:   true,
		Recomputed:  s.Histograms,
		Recorded:    s.Histograms,
	}
	var buf bytes.Buffer
	if err := WriteInspection(&buf, ins, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Run run-1 (aborted)", "Inter: 5 chunks", "ends inside a chunk", "DIFFER"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWritePair(t *testing.T) {
	ref := &storage.ChunkRef{Kind: models.KindInter, TrackA: "A_track1", TrackB: "B_track2", Offset: 128}
	values := []float64{0.5, -0.25}

	var buf bytes.Buffer
	if err := WritePair(&buf, ref, values, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded PairResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != "inter" || decoded.Offset != 128 || len(decoded.Values) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}

	buf.Reset()
	if err := WritePair(&buf, ref, values, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "inter sample A_track1 / B_track2 at offset 128, 2 values") {
		t.Errorf("text output:\n%s", buf.String())
	}
}
