package storage

import (
	"errors"
	"fmt"

	"github.com/hyperjump/embedsim/internal/models"
)

// ChunkRef locates one persisted sample.
type ChunkRef struct {
	Kind    models.Kind `json:"kind"`
	Ordinal int         `json:"ordinal"` // position of the chunk within its stream for this run
	I       int         `json:"i"`
	J       int         `json:"j"`
	TrackA  string      `json:"track_a"`
	TrackB  string      `json:"track_b"`
	Offset  int64       `json:"offset"`
	Count   int         `json:"count"`
}

// SampleWriter routes each sample to the intra or inter stream.
type SampleWriter struct {
	intra *ChunkWriter
	inter *ChunkWriter
}

// NewSampleWriter opens both streams with the same mode.
func NewSampleWriter(intraPath, interPath string, mode OpenMode) (*SampleWriter, error) {
	intra, err := OpenChunkWriter(intraPath, mode)
	if err != nil {
		return nil, err
	}
	inter, err := OpenChunkWriter(interPath, mode)
	if err != nil {
		_ = intra.Close()
		return nil, err
	}
	return &SampleWriter{intra: intra, inter: inter}, nil
}

// Write appends s to its stream.
func (w *SampleWriter) Write(s *models.Sample) (ChunkRef, error) {
	cw := w.inter
	if s.Kind == models.KindIntra {
		cw = w.intra
	}
	ref := ChunkRef{Kind: s.Kind, Ordinal: cw.Chunks(), I: s.I, J: s.J, TrackA: s.TrackA, TrackB: s.TrackB, Count: len(s.Values)}
	offset, err := cw.Append(s.Values)
	ref.Offset = offset
	return ref, err
}

// Intra returns the intra stream.
func (w *SampleWriter) Intra() *ChunkWriter { return w.intra }

// Inter returns the inter stream.
func (w *SampleWriter) Inter() *ChunkWriter { return w.inter }

// Close closes both streams.
func (w *SampleWriter) Close() error {
	return errors.Join(w.intra.Close(), w.inter.Close())
}

// ReadSample reads back the chunk ref locates in run's streams.
func ReadSample(run *RunRecord, ref *ChunkRef) ([]float64, error) {
	if run.SupersededBy != "" {
		return nil, fmt.Errorf("run %s: %w by run %s", run.ID, ErrSuperseded, run.SupersededBy)
	}
	return ReadChunkAt(run.StreamPath(ref.Kind), ref.Offset)
}
