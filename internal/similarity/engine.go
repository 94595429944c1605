// Package similarity schedules intra- and inter-track cosine similarity over a selected track set.
package similarity

import (
	"context"

	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmitFunc receives each sample. It is always called from a single goroutine, in engine order.
type EmitFunc func(*models.Sample) error

// Engine produces, for tracks t0..tn-1, the sequence intra(0), inter(0,1) .. inter(0,n-1),
// intra(1), inter(1,2) .. and so on. With more than one worker, samples are computed in
// parallel but still emitted in exactly that order.
type Engine struct {
	workers int
	logger  *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of goroutines computing samples. Values below 2 run sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets a logger for debug output (skipped tracks, per-track progress).
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{workers: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type prepared struct {
	key   string
	vecs  []models.Vector
	norms []float64
}

// Intra returns the strict upper triangle of the self-similarity matrix of vecs, row-major.
func Intra(vecs []models.Vector, norms []float64) []float64 {
	n := len(vecs)
	if n < 2 {
		return []float64{}
	}
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, vector.CosineWithNorms(vecs[i], vecs[j], norms[i], norms[j]))
		}
	}
	return out
}

// Inter returns the full cross-similarity matrix of a against b, row-major (rows are a's frames).
func Inter(a []models.Vector, na []float64, b []models.Vector, nb []float64) []float64 {
	out := make([]float64, 0, len(a)*len(b))
	for i := range a {
		for j := range b {
			out = append(out, vector.CosineWithNorms(a[i], b[j], na[i], nb[j]))
		}
	}
	return out
}

// PairCount returns how many samples Run emits for n non-empty tracks.
func PairCount(n int) int {
	return n + n*(n-1)/2
}

// Run computes every sample for tracks and hands them to emit in engine order.
// Tracks without vectors are skipped. Cancellation is observed between samples.
func (e *Engine) Run(ctx context.Context, tracks []*models.Track, emit EmitFunc) error {
	prep := e.prepare(tracks)
	if e.workers < 2 {
		return e.runSequential(ctx, prep, emit)
	}
	return e.runParallel(ctx, prep, emit)
}

func (e *Engine) prepare(tracks []*models.Track) []prepared {
	out := make([]prepared, 0, len(tracks))
	for _, t := range tracks {
		if len(t.Vectors) == 0 {
			if e.logger != nil {
				e.logger.Debug("engine skipping track without vectors", zap.String("track", t.Key))
			}
			continue
		}
		out = append(out, prepared{key: t.Key, vecs: t.Vectors, norms: vector.Norms(t.Vectors)})
	}
	return out
}

func compute(prep []prepared, i, j int) *models.Sample {
	a := prep[i]
	if i == j {
		return &models.Sample{Kind: models.KindIntra, I: i, J: i, TrackA: a.key, TrackB: a.key, Values: Intra(a.vecs, a.norms)}
	}
	b := prep[j]
	return &models.Sample{Kind: models.KindInter, I: i, J: j, TrackA: a.key, TrackB: b.key, Values: Inter(a.vecs, a.norms, b.vecs, b.norms)}
}

func (e *Engine) runSequential(ctx context.Context, prep []prepared, emit EmitFunc) error {
	for i := range prep {
		for j := i; j < len(prep); j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(compute(prep, i, j)); err != nil {
				return err
			}
		}
		if e.logger != nil {
			e.logger.Debug("track done", zap.String("track", prep[i].key), zap.Int("index", i), zap.Int("of", len(prep)))
		}
	}
	return nil
}

type job struct {
	i, j int
	out  chan *models.Sample
}

// runParallel fans (i, j) jobs out to workers and emits results from one goroutine in job order.
func (e *Engine) runParallel(ctx context.Context, prep []prepared, emit EmitFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	order := make(chan job, e.workers*4)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		for i := range prep {
			for j := i; j < len(prep); j++ {
				jb := job{i: i, j: j, out: make(chan *models.Sample, 1)}
				select {
				case order <- jb:
				case <-gctx.Done():
					return gctx.Err()
				}
				select {
				case jobs <- jb:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})
	for w := 0; w < e.workers; w++ {
		g.Go(func() error {
			for jb := range jobs {
				jb.out <- compute(prep, jb.i, jb.j)
			}
			return nil
		})
	}
	g.Go(func() error {
		for jb := range order {
			select {
			case s := <-jb.out:
				if err := emit(s); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	return g.Wait()
}
