// Package cli renders run results for the embedsim command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/pipeline"
	"github.com/hyperjump/embedsim/internal/storage"
	"github.com/hyperjump/embedsim/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const barWidth = 40

// WriteSummary writes a run summary to w in the given format.
func WriteSummary(w io.Writer, summary *models.RunSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, summary)
	}
	writeSummaryText(w, summary)
	return nil
}

// WriteInspection writes the result of re-reading a run's artifacts.
func WriteInspection(w io.Writer, ins *pipeline.Inspection, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ins)
	}
	if ins.RunID != "" {
		fmt.Fprintf(w, "Run %s (%s)\n", ins.RunID, ins.Status)
	}
	fmt.Fprintf(w, "Intra: %d chunks, %d values\n", ins.IntraChunks, ins.IntraValues)
	fmt.Fprintf(w, "Inter: %d chunks, %d values\n", ins.InterChunks, ins.InterValues)
	if ins.Truncated {
		fmt.Fprintln(w, "Warning: a stream ends inside a chunk; only the complete prefix was read")
	}
	switch {
	case ins.Recorded == nil:
		fmt.Fprintln(w, "No recorded histograms for this run")
	case ins.Consistent:
		fmt.Fprintln(w, "Recorded histograms match the streams")
	default:
		fmt.Fprintln(w, "Recorded histograms DIFFER from the streams")
	}
	writeHistogramsText(w, ins.Recomputed)
	return nil
}

// PairResult is one persisted sample looked up by its track pair.
type PairResult struct {
	Kind   string    `json:"kind"`
	TrackA string    `json:"track_a"`
	TrackB string    `json:"track_b"`
	Offset int64     `json:"offset"`
	Values []float64 `json:"values"`
}

// WritePair writes a looked-up sample.
func WritePair(w io.Writer, ref *storage.ChunkRef, values []float64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, PairResult{Kind: ref.Kind.String(), TrackA: ref.TrackA, TrackB: ref.TrackB, Offset: ref.Offset, Values: values})
	}
	fmt.Fprintf(w, "%s sample %s / %s at offset %d, %d values\n", ref.Kind, ref.TrackA, ref.TrackB, ref.Offset, len(values))
	for i, v := range values {
		fmt.Fprintf(w, "%6d  %.6f\n", i, v)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaryText(w io.Writer, s *models.RunSummary) {
	fmt.Fprintf(w, "\nRun %s %s in %s\n", s.RunID, s.Status, time.Duration(s.Duration)*time.Millisecond)
	fmt.Fprintf(w, "Input: %s (%s)\n", s.Input, s.Fingerprint)
	fmt.Fprintf(w, "Seed: %d  Sample size: %d  Dimension: %d\n", s.Seed, s.SampleSize, s.Dimension)
	fmt.Fprintf(w, "Tracks: %d total, %d with vectors, %d sampled\n", s.TracksTotal, s.TracksEligible, s.TracksSampled)
	fmt.Fprintf(w, "Intra: %d samples, %d values\n", s.IntraChunks, s.IntraValues)
	fmt.Fprintf(w, "Inter: %d samples, %d values\n", s.InterChunks, s.InterValues)

	a := s.Artifacts
	fmt.Fprintf(w, "\nArtifacts in %s (%s)\n", a.Directory, utils.HumanBytes(a.BytesWritten))
	for _, p := range []string{a.IntraPath, a.InterPath, a.CatalogPath, a.HistogramJSON, a.HistogramXLSX} {
		if p != "" {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	writeHistogramsText(w, s.Histograms)
}

func writeHistogramsText(w io.Writer, h *models.Histograms) {
	if h == nil || len(h.Edges) < 2 {
		return
	}
	var maxCount int64
	for i := range h.Intra {
		maxCount = max(maxCount, h.Intra[i], h.Inter[i])
	}
	fmt.Fprintf(w, "\n%-13s %10s %10s\n", "bin", "intra", "inter")
	for i := range h.Intra {
		fmt.Fprintf(w, "[%.2f, %.2f%s %10d %10d  %-*s|%s\n",
			h.Edges[i], h.Edges[i+1], closing(i, len(h.Intra)),
			h.Intra[i], h.Inter[i],
			barWidth, utils.Bar(h.Intra[i], maxCount, barWidth), utils.Bar(h.Inter[i], maxCount, barWidth))
	}
}

// closing returns the bracket for bin i: the last bin also holds its upper edge.
func closing(i, bins int) string {
	if i == bins-1 {
		return "]"
	}
	return ")"
}
