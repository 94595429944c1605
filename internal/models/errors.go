package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTrack marks a track with zero feature vectors; it is logged and skipped.
	ErrEmptyTrack = errors.New("empty track skipped")
	// ErrInsufficientData marks a run with fewer eligible tracks than the requested sample size.
	ErrInsufficientData = errors.New("fewer eligible tracks than requested sample size")
	// ErrAggregatorFinalized is returned when a sample arrives after the histograms were finalized.
	ErrAggregatorFinalized = errors.New("histogram aggregator already finalized")
)

// MalformedDocumentError reports input that does not have the sequence -> track -> vector shape.
type MalformedDocumentError struct {
	Path       string // location inside the document, e.g. Sequences[2].Tracks[0].Track ID
	SequenceID string
	Offset     int64 // input byte offset where the problem was detected
	Reason     string
	cause      error
}

// NewMalformedDocumentError builds a MalformedDocumentError wrapping an optional cause.
func NewMalformedDocumentError(path, sequenceID string, offset int64, reason string, cause error) *MalformedDocumentError {
	return &MalformedDocumentError{Path: path, SequenceID: sequenceID, Offset: offset, Reason: reason, cause: cause}
}

func (e *MalformedDocumentError) Error() string {
	msg := fmt.Sprintf("malformed document at %s (offset %d): %s", e.Path, e.Offset, e.Reason)
	if e.SequenceID != "" {
		msg += fmt.Sprintf(" [sequence %s]", e.SequenceID)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *MalformedDocumentError) Unwrap() error { return e.cause }

// VectorDimensionError reports a feature vector whose length differs from the dimension
// established by the first vector of the document. It aborts the run.
type VectorDimensionError struct {
	Key        string
	SequenceID string
	Expected   int
	Actual     int
	Offset     int64
}

func (e *VectorDimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch for track %s (sequence %s, offset %d): expected %d, got %d",
		e.Key, e.SequenceID, e.Offset, e.Expected, e.Actual)
}

// IOError reports an output directory or stream that could not be created or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
