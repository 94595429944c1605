// Package reader streams track embeddings out of a sequence-structured JSON document
// without materializing the whole document.
package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/trackstore"
	"go.uber.org/zap"
)

// Field names used by the tracker's association output.
const (
	fieldSequences     = "Sequences"
	fieldSequenceID    = "SequenceID"
	fieldTracks        = "Tracks"
	fieldTrackID       = "Track ID"
	fieldFeatureVector = "Feature Vector"
)

// Stats summarizes what a read produced.
type Stats struct {
	Sequences int
	Records   int
	Frames    int
	Dimension int
}

// Reader is a single-use streaming parser over one document.
type Reader struct {
	dec    *json.Decoder
	dim    int
	stats  Stats
	logger *zap.Logger // optional
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets a logger for debug output (sequence progress).
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithDimension fixes the expected vector dimension instead of discovering it from the first vector.
func WithDimension(d int) Option {
	return func(r *Reader) { r.dim = d }
}

// New creates a Reader over src. src is consumed incrementally.
func New(src io.Reader, opts ...Option) *Reader {
	dec := json.NewDecoder(src)
	dec.UseNumber()
	r := &Reader{dec: dec}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dimension returns the established vector dimension (0 until the first vector is seen).
func (r *Reader) Dimension() int {
	return r.dim
}

// Stats returns counters for what has been read so far.
func (r *Reader) Stats() Stats {
	s := r.stats
	s.Dimension = r.dim
	return s
}

// Read parses the document and calls fn once per track record, in document order.
// The top-level value is either a list of sequences or an object with a "Sequences" list.
// Parsing stops at the first structural or dimension error, or when fn returns an error.
func (r *Reader) Read(ctx context.Context, fn func(*models.TrackFrames) error) error {
	tok, err := r.token("$")
	if err != nil {
		return err
	}
	switch tok {
	case json.Delim('['):
		if err := r.readSequences(ctx, fieldSequences, fn); err != nil {
			return err
		}
	case json.Delim('{'):
		found := false
		for r.dec.More() {
			key, err := r.key("$")
			if err != nil {
				return err
			}
			if key != fieldSequences {
				if err := r.skip(key); err != nil {
					return err
				}
				continue
			}
			if err := r.expectDelim(fieldSequences, '['); err != nil {
				return err
			}
			if err := r.readSequences(ctx, fieldSequences, fn); err != nil {
				return err
			}
			found = true
		}
		if err := r.expectDelim("$", '}'); err != nil {
			return err
		}
		if !found {
			return r.malformed("$", "", "missing \"Sequences\" list", nil)
		}
	default:
		return r.malformed("$", "", "top-level value must be a list of sequences or an object with \"Sequences\"", nil)
	}
	if _, err := r.dec.Token(); err != io.EOF {
		return r.malformed("$", "", "trailing data after document", nil)
	}
	return nil
}

func (r *Reader) readSequences(ctx context.Context, path string, fn func(*models.TrackFrames) error) error {
	for i := 0; r.dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.readSequence(ctx, fmt.Sprintf("%s[%d]", path, i), fn); err != nil {
			return err
		}
		r.stats.Sequences++
	}
	return r.expectDelim(path, ']')
}

func (r *Reader) readSequence(ctx context.Context, path string, fn func(*models.TrackFrames) error) error {
	if err := r.expectDelim(path, '{'); err != nil {
		return err
	}
	var (
		seqID     string
		haveID    bool
		sawTracks bool
		pending   []*models.TrackFrames // records seen before the sequence id
	)
	for r.dec.More() {
		key, err := r.key(path)
		if err != nil {
			return err
		}
		switch key {
		case fieldSequenceID:
			seqID, err = r.scalarID(path+"."+fieldSequenceID, true)
			if err != nil {
				return err
			}
			haveID = true
			for _, rec := range pending {
				rec.SequenceID = seqID
				if err := r.emit(rec, fn); err != nil {
					return err
				}
			}
			pending = nil
		case fieldTracks:
			tracksPath := path + "." + fieldTracks
			if err := r.expectDelim(tracksPath, '['); err != nil {
				return err
			}
			for j := 0; r.dec.More(); j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := r.readTrack(fmt.Sprintf("%s[%d]", tracksPath, j), seqID)
				if err != nil {
					return err
				}
				if !haveID {
					pending = append(pending, rec)
					continue
				}
				rec.SequenceID = seqID
				if err := r.emit(rec, fn); err != nil {
					return err
				}
			}
			if err := r.expectDelim(tracksPath, ']'); err != nil {
				return err
			}
			sawTracks = true
		default:
			if err := r.skip(path + "." + key); err != nil {
				return err
			}
		}
	}
	if err := r.expectDelim(path, '}'); err != nil {
		return err
	}
	if !haveID {
		return r.malformed(path, "", "missing \"SequenceID\"", nil)
	}
	if !sawTracks {
		return r.malformed(path, seqID, "missing \"Tracks\" list", nil)
	}
	if r.logger != nil {
		r.logger.Debug("sequence read", zap.String("sequence", seqID), zap.Int("records", r.stats.Records))
	}
	return nil
}

func (r *Reader) readTrack(path, seqID string) (*models.TrackFrames, error) {
	if err := r.expectDelim(path, '{'); err != nil {
		return nil, err
	}
	rec := &models.TrackFrames{}
	var haveID, haveVectors bool
	for r.dec.More() {
		key, err := r.key(path)
		if err != nil {
			return nil, err
		}
		switch key {
		case fieldTrackID:
			rec.TrackID, err = r.scalarID(path+"."+fieldTrackID, false)
			if err != nil {
				return nil, err
			}
			haveID = true
		case fieldFeatureVector:
			rec.Vectors, err = r.readVectors(path + "." + fieldFeatureVector)
			if err != nil {
				return nil, err
			}
			haveVectors = true
		default:
			if err := r.skip(path + "." + key); err != nil {
				return nil, err
			}
		}
	}
	if err := r.expectDelim(path, '}'); err != nil {
		return nil, err
	}
	if !haveID {
		return nil, r.malformed(path, seqID, "missing \"Track ID\"", nil)
	}
	if !haveVectors {
		return nil, r.malformed(path, seqID, "missing \"Feature Vector\"", nil)
	}
	return rec, nil
}

// readVectors accepts a single vector (one frame) or a list of vectors.
func (r *Reader) readVectors(path string) ([]models.Vector, error) {
	if err := r.expectDelim(path, '['); err != nil {
		return nil, err
	}
	if !r.dec.More() {
		return nil, r.expectDelim(path, ']')
	}
	tok, err := r.token(path)
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Number:
		vec, err := r.readNumbers(path, &v)
		if err != nil {
			return nil, err
		}
		return []models.Vector{vec}, nil
	case json.Delim:
		if v != '[' {
			break
		}
		first, err := r.readFrame(path+"[0]")
		if err != nil {
			return nil, err
		}
		out := []models.Vector{first}
		for i := 1; r.dec.More(); i++ {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if err := r.expectDelim(elemPath, '['); err != nil {
				return nil, err
			}
			vec, err := r.readFrame(elemPath)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
		return out, r.expectDelim(path, ']')
	}
	return nil, r.malformed(path, "", "feature vector must be a list of numbers or a list of lists of numbers", nil)
}

// readFrame reads one already-opened frame of a list of vectors. A frame has at least one component.
func (r *Reader) readFrame(path string) (models.Vector, error) {
	vec, err := r.readNumbers(path, nil)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, r.malformed(path, "", "empty feature vector", nil)
	}
	return vec, nil
}

// readNumbers reads the rest of an already-opened numeric list, including its closing bracket.
func (r *Reader) readNumbers(path string, first *json.Number) (models.Vector, error) {
	capHint := r.dim
	if capHint == 0 {
		capHint = 16
	}
	vec := make(models.Vector, 0, capHint)
	if first != nil {
		f, err := r.number(path, *first)
		if err != nil {
			return nil, err
		}
		vec = append(vec, f)
	}
	for r.dec.More() {
		tok, err := r.token(path)
		if err != nil {
			return nil, err
		}
		n, ok := tok.(json.Number)
		if !ok {
			return nil, r.malformed(path, "", fmt.Sprintf("expected number, got %v", tok), nil)
		}
		f, err := r.number(path, n)
		if err != nil {
			return nil, err
		}
		vec = append(vec, f)
	}
	return vec, r.expectDelim(path, ']')
}

func (r *Reader) number(path string, n json.Number) (float32, error) {
	f, err := strconv.ParseFloat(string(n), 32)
	if err != nil {
		return 0, r.malformed(path, "", "invalid number "+string(n), err)
	}
	return float32(f), nil
}

// emit validates the record's vectors against the document dimension and hands it to fn.
func (r *Reader) emit(rec *models.TrackFrames, fn func(*models.TrackFrames) error) error {
	for _, v := range rec.Vectors {
		if r.dim == 0 {
			r.dim = len(v)
		}
		if len(v) != r.dim {
			return &models.VectorDimensionError{
				Key:        rec.Key(),
				SequenceID: rec.SequenceID,
				Expected:   r.dim,
				Actual:     len(v),
				Offset:     r.dec.InputOffset(),
			}
		}
	}
	r.stats.Records++
	r.stats.Frames += len(rec.Vectors)
	return fn(rec)
}

// scalarID reads an identifier. Sequence ids may be strings or numbers; track ids must be numbers.
func (r *Reader) scalarID(path string, allowString bool) (string, error) {
	tok, err := r.token(path)
	if err != nil {
		return "", err
	}
	switch v := tok.(type) {
	case json.Number:
		return v.String(), nil
	case string:
		if allowString {
			return v, nil
		}
	}
	return "", r.malformed(path, "", fmt.Sprintf("unexpected identifier %v", tok), nil)
}

func (r *Reader) key(path string) (string, error) {
	tok, err := r.token(path)
	if err != nil {
		return "", err
	}
	k, ok := tok.(string)
	if !ok {
		return "", r.malformed(path, "", fmt.Sprintf("expected object key, got %v", tok), nil)
	}
	return k, nil
}

func (r *Reader) expectDelim(path string, d json.Delim) error {
	tok, err := r.token(path)
	if err != nil {
		return err
	}
	if got, ok := tok.(json.Delim); !ok || got != d {
		return r.malformed(path, "", fmt.Sprintf("expected %q, got %v", d, tok), nil)
	}
	return nil
}

// skip consumes one value of any shape token by token, so unknown fields are never buffered whole.
func (r *Reader) skip(path string) error {
	depth := 0
	for {
		tok, err := r.token(path)
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '[', '{':
				depth++
			case ']', '}':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func (r *Reader) token(path string) (json.Token, error) {
	tok, err := r.dec.Token()
	if err == nil {
		return tok, nil
	}
	var syn *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, r.malformed(path, "", "unexpected end of document", nil)
	case errors.As(err, &syn):
		return nil, r.malformed(path, "", "invalid JSON", err)
	}
	return nil, fmt.Errorf("read document: %w", err)
}

func (r *Reader) malformed(path, seqID, reason string, cause error) error {
	return models.NewMalformedDocumentError(path, seqID, r.dec.InputOffset(), reason, cause)
}

// LoadFile streams the document at path into store.
func LoadFile(ctx context.Context, path string, store *trackstore.Store, opts ...Option) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	r := New(bufio.NewReaderSize(f, 1<<16), opts...)
	err = r.Read(ctx, func(rec *models.TrackFrames) error {
		store.Add(rec)
		return nil
	})
	return r.Stats(), err
}
