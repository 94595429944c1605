// Package pipeline runs one similarity analysis end to end: stream the document, sample
// tracks, compute similarities, and persist and histogram every sample in one pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/embedsim/internal/config"
	"github.com/hyperjump/embedsim/internal/fileid"
	"github.com/hyperjump/embedsim/internal/histogram"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/reader"
	"github.com/hyperjump/embedsim/internal/report"
	"github.com/hyperjump/embedsim/internal/sampler"
	"github.com/hyperjump/embedsim/internal/similarity"
	"github.com/hyperjump/embedsim/internal/storage"
	"github.com/hyperjump/embedsim/internal/trackstore"
	"go.uber.org/zap"
)

// Runner executes analysis runs for a configuration.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger; without it the runner logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner. cfg should already have defaults applied.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the state of a single analysis, created once per Analyze call and passed to
// every stage; nothing about a run lives outside it.
type run struct {
	id      string
	cfg     *config.Config
	logger  *zap.Logger
	writer  *storage.SampleWriter
	catalog storage.Catalog
	agg     *histogram.Aggregator
	summary *models.RunSummary
}

// Analyze performs one run. Parse and dimension errors are returned before any output
// file exists. If the run is cancelled or fails while computing, the streams hold a valid
// prefix of whole chunks and the partial summary is returned together with the error.
func (r *Runner) Analyze(ctx context.Context) (*models.RunSummary, error) {
	cfg := r.cfg
	start := time.Now()
	rn := &run{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: r.logger,
	}
	rn.logger = rn.logger.With(zap.String("run_id", rn.id))
	k := cfg.Sampling.SampleSizeOrDefault()
	smp := sampler.NewRandom()
	if cfg.Sampling.Seed != nil {
		smp = sampler.New(*cfg.Sampling.Seed)
	}
	rn.summary = &models.RunSummary{
		RunID:      rn.id,
		Status:     models.RunRunning,
		Input:      cfg.Input.Path,
		Seed:       smp.Seed(),
		SampleSize: k,
		StartedAt:  start,
	}
	rn.logger.Info("run started",
		zap.String("input", cfg.Input.Path),
		zap.Int("sample_size", k),
		zap.Uint64("seed", smp.Seed()),
		zap.Bool("two_pass", cfg.Input.TwoPassOrDefault()),
	)

	fingerprint, err := fileid.Fingerprint(cfg.Input.Path)
	if err != nil {
		return nil, &models.IOError{Op: "read input", Path: cfg.Input.Path, Err: err}
	}
	rn.summary.Fingerprint = fingerprint

	store, sel, stats, err := rn.load(ctx, smp, k)
	if err != nil {
		rn.logger.Error("load failed", zap.Error(err))
		return nil, err
	}
	rn.summary.Dimension = stats.Dimension
	rn.summary.TracksTotal = store.Len()
	rn.summary.TracksEligible = sel.Eligible
	rn.summary.TracksSampled = len(sel.Keys)
	for _, key := range sel.Empty {
		rn.logger.Warn("track excluded", zap.String("track", key), zap.Error(models.ErrEmptyTrack))
	}
	if sel.Insufficient(k) {
		rn.logger.Warn("using all available tracks",
			zap.Int("requested", k), zap.Int("eligible", sel.Eligible), zap.Error(models.ErrInsufficientData))
	}
	rn.logger.Info("tracks loaded",
		zap.Int("sequences", stats.Sequences),
		zap.Int("tracks", store.Len()),
		zap.Int("frames", stats.Frames),
		zap.Int("dimension", stats.Dimension),
		zap.Int("sampled", len(sel.Keys)),
	)

	if err := rn.open(ctx); err != nil {
		rn.closeOutputs(ctx, models.RunFailed)
		return nil, err
	}

	engine := similarity.NewEngine(
		similarity.WithWorkers(cfg.Similarity.Workers),
		similarity.WithLogger(rn.logger),
	)
	runErr := engine.Run(ctx, store.Tracks(sel.Keys), rn.emit)

	status := models.RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = models.RunAborted
	default:
		status = models.RunFailed
	}
	closeErr := rn.closeOutputs(ctx, status)
	rn.summary.Histograms = rn.agg.Finalize()
	rn.summary.Histograms.RunID = rn.id
	rn.summary.Status = status
	rn.summary.Duration = time.Since(start).Milliseconds()
	if runErr != nil {
		rn.logger.Warn("run stopped", zap.String("status", string(status)), zap.Error(runErr))
		return rn.summary, errors.Join(runErr, closeErr)
	}
	if closeErr != nil {
		rn.summary.Status = models.RunFailed
		return rn.summary, closeErr
	}

	if err := rn.writeReports(); err != nil {
		rn.summary.Status = models.RunFailed
		return rn.summary, err
	}
	a := &rn.summary.Artifacts
	a.BytesWritten, err = storage.DiskUsageBytes(a.IntraPath, a.InterPath, a.CatalogPath, a.HistogramJSON, a.HistogramXLSX)
	if err != nil {
		rn.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	rn.summary.Duration = time.Since(start).Milliseconds()
	rn.logger.Info("run finished",
		zap.Int("intra_chunks", rn.summary.IntraChunks),
		zap.Int("inter_chunks", rn.summary.InterChunks),
		zap.Int64("intra_values", rn.summary.IntraValues),
		zap.Int64("inter_values", rn.summary.InterValues),
		zap.Int64("bytes_written", a.BytesWritten),
		zap.Int64("duration_ms", rn.summary.Duration),
	)
	return rn.summary, nil
}

// load streams the document into a store and samples it. In two-pass mode the first pass
// only counts frames per track; the second keeps vectors for the sampled tracks alone.
func (rn *run) load(ctx context.Context, smp *sampler.Sampler, k int) (*trackstore.Store, *sampler.Selection, reader.Stats, error) {
	path := rn.cfg.Input.Path
	ropts := []reader.Option{reader.WithLogger(rn.logger)}
	if !rn.cfg.Input.TwoPassOrDefault() {
		store := trackstore.New()
		stats, err := reader.LoadFile(ctx, path, store, ropts...)
		if err != nil {
			return nil, nil, stats, err
		}
		return store, smp.Sample(store, k), stats, nil
	}

	index := trackstore.New(trackstore.CountOnly())
	stats, err := reader.LoadFile(ctx, path, index, ropts...)
	if err != nil {
		return nil, nil, stats, err
	}
	sel := smp.Sample(index, k)
	keep := make(map[string]bool, len(sel.Keys))
	for _, key := range sel.Keys {
		keep[key] = true
	}
	store := trackstore.New(trackstore.WithRetain(func(key string) bool { return keep[key] }))
	ropts = append(ropts, reader.WithDimension(stats.Dimension))
	if _, err := reader.LoadFile(ctx, path, store, ropts...); err != nil {
		return nil, nil, stats, fmt.Errorf("second pass: %w", err)
	}
	return store, sel, stats, nil
}

// open creates the output directory, both chunk streams, the aggregator and the catalog run.
func (rn *run) open(ctx context.Context) error {
	out := rn.cfg.Output
	if err := storage.EnsureDir(out.Directory); err != nil {
		return err
	}
	mode, err := storage.ParseOpenMode(out.Mode)
	if err != nil {
		return err
	}
	a := &rn.summary.Artifacts
	a.Directory = out.Directory
	a.IntraPath = out.Path(out.IntraFile)
	a.InterPath = out.Path(out.InterFile)
	a.CatalogPath = out.Path(out.Catalog)
	a.HistogramJSON = out.Path(out.HistogramJSON)
	a.HistogramXLSX = out.Path(out.HistogramXLSX)

	rn.agg, err = histogram.NewAggregator(rn.cfg.Histogram.Bins)
	if err != nil {
		return err
	}
	if mode == storage.ModeCreate {
		// Reports of an earlier run no longer describe the streams about to be truncated.
		if err := storage.RemoveArtifacts(a.HistogramJSON, a.HistogramXLSX); err != nil {
			return err
		}
	}
	rn.writer, err = storage.NewSampleWriter(a.IntraPath, a.InterPath, mode)
	if err != nil {
		return err
	}
	if a.CatalogPath == "" {
		return nil
	}
	cat, err := storage.NewSQLiteCatalog(a.CatalogPath)
	if err != nil {
		return err
	}
	rn.catalog = cat
	return cat.BeginRun(ctx, &storage.RunRecord{
		ID:            rn.id,
		Input:         rn.summary.Input,
		Fingerprint:   rn.summary.Fingerprint,
		Seed:          rn.summary.Seed,
		SampleSize:    rn.summary.SampleSize,
		Dimension:     rn.summary.Dimension,
		TracksTotal:   rn.summary.TracksTotal,
		TracksSampled: rn.summary.TracksSampled,
		IntraPath:     a.IntraPath,
		InterPath:     a.InterPath,
		Mode:          mode,
		StartedAt:     rn.summary.StartedAt,
	})
}

// emit is the single consumer of engine output: persist, index, then histogram.
func (rn *run) emit(s *models.Sample) error {
	ref, err := rn.writer.Write(s)
	if err != nil {
		return err
	}
	if rn.catalog != nil {
		// The chunk is already on disk; record it even if the run is being cancelled.
		if err := rn.catalog.RecordChunk(context.Background(), rn.id, ref); err != nil {
			return fmt.Errorf("record chunk %s/%s: %w", s.TrackA, s.TrackB, err)
		}
	}
	if err := rn.agg.Add(s); err != nil {
		return err
	}
	if s.Kind == models.KindIntra {
		rn.summary.IntraChunks++
		rn.summary.IntraValues += int64(len(s.Values))
	} else {
		rn.summary.InterChunks++
		rn.summary.InterValues += int64(len(s.Values))
	}
	return nil
}

func (rn *run) closeOutputs(ctx context.Context, status models.RunStatus) error {
	var errs []error
	if rn.writer != nil {
		errs = append(errs, rn.writer.Close())
	}
	if rn.catalog != nil {
		if err := rn.catalog.FinishRun(ctx, rn.id, status); err != nil {
			rn.logger.Warn("catalog finish failed", zap.Error(err))
			errs = append(errs, err)
		}
		errs = append(errs, rn.catalog.Close())
	}
	return errors.Join(errs...)
}

func (rn *run) writeReports() error {
	a := rn.summary.Artifacts
	if a.HistogramJSON != "" {
		if err := report.WriteJSON(a.HistogramJSON, rn.summary.Histograms); err != nil {
			return err
		}
	}
	if a.HistogramXLSX != "" {
		if err := report.WriteWorkbook(a.HistogramXLSX, rn.summary); err != nil {
			return err
		}
	}
	return nil
}
