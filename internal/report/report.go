// Package report writes the final histograms in the forms a plotting tool consumes.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperjump/embedsim/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	histogramSheet = "Histograms"
	runSheet       = "Run"
)

// WriteJSON writes the bin edges and both count vectors to path.
func WriteJSON(path string, h *models.Histograms) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal histograms: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return &models.IOError{Op: "write histograms", Path: path, Err: err}
	}
	return nil
}

// ReadJSON reads histograms written by WriteJSON.
func ReadJSON(path string) (*models.Histograms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.IOError{Op: "read histograms", Path: path, Err: err}
	}
	var h models.Histograms
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse histograms %s: %w", path, err)
	}
	if len(h.Edges) != len(h.Intra)+1 || len(h.Edges) != len(h.Inter)+1 {
		return nil, fmt.Errorf("histograms %s: %d edges for %d/%d bins", path, len(h.Edges), len(h.Intra), len(h.Inter))
	}
	return &h, nil
}

// WriteWorkbook writes a two-sheet workbook: one row per bin, and the run summary.
func WriteWorkbook(path string, summary *models.RunSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", histogramSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	rows := [][]any{{"bin_start", "bin_end", "intra", "inter"}}
	if h := summary.Histograms; h != nil {
		for i := range h.Intra {
			rows = append(rows, []any{h.Edges[i], h.Edges[i+1], h.Intra[i], h.Inter[i]})
		}
	}
	if err := writeRows(f, histogramSheet, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(runSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	runRows := [][]any{
		{"run_id", summary.RunID},
		{"status", string(summary.Status)},
		{"input", summary.Input},
		{"fingerprint", summary.Fingerprint},
		{"seed", fmt.Sprint(summary.Seed)},
		{"sample_size", summary.SampleSize},
		{"dimension", summary.Dimension},
		{"tracks_total", summary.TracksTotal},
		{"tracks_eligible", summary.TracksEligible},
		{"tracks_sampled", summary.TracksSampled},
		{"intra_values", summary.IntraValues},
		{"inter_values", summary.InterValues},
	}
	if err := writeRows(f, runSheet, runRows); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return &models.IOError{Op: "write workbook", Path: path, Err: err}
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, r+1, err)
		}
	}
	return nil
}
