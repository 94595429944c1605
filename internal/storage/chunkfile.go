// Package storage persists similarity samples as append-only chunk streams and keeps a
// SQLite catalog of runs and chunks.
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/embedsim/internal/models"
	"github.com/sbinet/npyio"
)

// Each chunk is a complete NumPy .npy array of little-endian float64, so a stream can be
// re-read with repeated np.load calls or with ChunkReader.

// ErrTruncatedChunk is returned when a stream ends inside a chunk.
var ErrTruncatedChunk = errors.New("truncated chunk")

// OpenMode decides, once at construction, whether a stream starts empty or keeps its contents.
type OpenMode int

const (
	// ModeCreate creates or truncates the stream.
	ModeCreate OpenMode = iota
	// ModeAppend keeps existing chunks and appends after them.
	ModeAppend
)

func (m OpenMode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "create"
}

// MarshalText implements encoding.TextMarshaler.
func (m OpenMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OpenMode) UnmarshalText(text []byte) error {
	v, err := ParseOpenMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseOpenMode parses "create" or "append".
func ParseOpenMode(s string) (OpenMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "create":
		return ModeCreate, nil
	case "append":
		return ModeAppend, nil
	}
	return ModeCreate, fmt.Errorf("unknown output mode %q (want create or append)", s)
}

// ChunkWriter appends chunks to one stream. Every chunk is written with a single write
// call so an interrupted run leaves a sequence of whole chunks.
type ChunkWriter struct {
	path   string
	f      *os.File
	size   int64
	chunks int
	values int64
}

// OpenChunkWriter opens path according to mode.
func OpenChunkWriter(path string, mode OpenMode) (*ChunkWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if mode == ModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, &models.IOError{Op: "open stream", Path: path, Err: err}
	}
	w := &ChunkWriter{path: path, f: f}
	if mode == ModeAppend {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, &models.IOError{Op: "stat stream", Path: path, Err: err}
		}
		w.size = info.Size()
	}
	return w, nil
}

// Append writes values as one chunk and returns the byte offset the chunk starts at.
func (w *ChunkWriter) Append(values []float64) (int64, error) {
	offset := w.size
	buf, err := EncodeChunk(values)
	if err != nil {
		return offset, err
	}
	n, err := w.f.Write(buf)
	w.size += int64(n)
	if err != nil {
		return offset, &models.IOError{Op: "append chunk", Path: w.path, Err: err}
	}
	w.chunks++
	w.values += int64(len(values))
	return offset, nil
}

// Path returns the stream path.
func (w *ChunkWriter) Path() string { return w.path }

// Chunks returns the number of chunks appended since opening.
func (w *ChunkWriter) Chunks() int { return w.chunks }

// Values returns the number of values appended since opening.
func (w *ChunkWriter) Values() int64 { return w.values }

// Close syncs and closes the stream.
func (w *ChunkWriter) Close() error {
	if w.f == nil {
		return nil
	}
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	w.f = nil
	if err := errors.Join(syncErr, closeErr); err != nil {
		return &models.IOError{Op: "close stream", Path: w.path, Err: err}
	}
	return nil
}

// EncodeChunk returns the .npy encoding of a 1-D float64 array.
func EncodeChunk(values []float64) ([]byte, error) {
	if values == nil {
		values = []float64{}
	}
	var buf bytes.Buffer
	if err := npyio.Write(&buf, values); err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return buf.Bytes(), nil
}

// countingReader counts consumed bytes and remembers whether the source ran dry.
type countingReader struct {
	r   io.Reader
	n   int64
	eof bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err == io.EOF {
		c.eof = true
	}
	return n, err
}

// ChunkReader reads successive chunks from a stream.
type ChunkReader struct {
	br     *bufio.Reader
	src    *countingReader
	offset int64
}

// NewChunkReader wraps r.
func NewChunkReader(r io.Reader) *ChunkReader {
	br := bufio.NewReader(r)
	return &ChunkReader{br: br, src: &countingReader{r: br}}
}

// Offset returns the byte offset of the next chunk.
func (c *ChunkReader) Offset() int64 { return c.offset }

// Next returns the next chunk's values. It returns io.EOF at a clean end of stream and
// an error wrapping ErrTruncatedChunk when the stream stops inside a chunk.
func (c *ChunkReader) Next() ([]float64, error) {
	if _, err := c.br.Peek(1); err == io.EOF {
		return nil, io.EOF
	} else if err != nil {
		return nil, &models.IOError{Op: "read stream", Err: err}
	}
	start := c.src.n
	values, err := c.decode()
	if err != nil {
		if c.src.eof {
			return nil, fmt.Errorf("chunk at offset %d: %w", c.offset, ErrTruncatedChunk)
		}
		return nil, fmt.Errorf("chunk at offset %d: %w", c.offset, err)
	}
	c.offset += c.src.n - start
	return values, nil
}

func (c *ChunkReader) decode() ([]float64, error) {
	r, err := npyio.NewReader(c.src)
	if err != nil {
		return nil, err
	}
	if len(r.Header.Descr.Shape) > 1 {
		return nil, fmt.Errorf("expected 1-D array, got shape %v", r.Header.Descr.Shape)
	}
	switch r.Header.Descr.Type {
	case "<f8":
		var values []float64
		if err := r.Read(&values); err != nil {
			return nil, err
		}
		if values == nil {
			values = []float64{}
		}
		return values, nil
	case "<f4":
		var narrow []float32
		if err := r.Read(&narrow); err != nil {
			return nil, err
		}
		values := make([]float64, len(narrow))
		for i, v := range narrow {
			values[i] = float64(v)
		}
		return values, nil
	}
	return nil, fmt.Errorf("unsupported dtype %s", r.Header.Descr.Type)
}

// ReadChunks calls fn for every chunk in the stream at path.
func ReadChunks(path string, fn func(index int, values []float64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &models.IOError{Op: "open stream", Path: path, Err: err}
	}
	defer f.Close()
	cr := NewChunkReader(f)
	for i := 0; ; i++ {
		values, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := fn(i, values); err != nil {
			return err
		}
	}
}

// ReadChunkAt reads the single chunk starting at offset, as recorded in a ChunkRef.
func ReadChunkAt(path string, offset int64) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.IOError{Op: "open stream", Path: path, Err: err}
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, &models.IOError{Op: "seek stream", Path: path, Err: err}
	}
	cr := NewChunkReader(f)
	cr.offset = offset
	values, err := cr.Next()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: no chunk at offset %d: %w", path, offset, ErrTruncatedChunk)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}
