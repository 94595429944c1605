// Package server provides a read-only HTTP API over recorded runs: the catalog, single
// samples read back from the chunk streams, and the latest histograms.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hyperjump/embedsim/internal/config"
	"github.com/hyperjump/embedsim/internal/storage"
	"go.uber.org/zap"
)

// Server is the HTTP server for the results API.
type Server struct {
	catalog storage.Catalog
	output  config.OutputConfig
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	chunks  *lru.Cache[chunkKey, []float64] // nil when caching is off
}

// chunkKey identifies a chunk read back from a stream. Runs share stream files, so the
// run ID is part of the key.
type chunkKey struct {
	runID  string
	path   string
	offset int64
}

// NewServer creates a server reading from catalog and the artifacts named in cfg.Output.
// A positive cfg.Server.ChunkCache keeps that many recently read chunks in memory.
func NewServer(catalog storage.Catalog, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		catalog: catalog,
		output:  cfg.Output,
		config:  &cfg.Server,
		logger:  logger,
	}
	if cfg.Server.ChunkCache > 0 {
		cache, err := lru.New[chunkKey, []float64](cfg.Server.ChunkCache)
		if err != nil {
			logger.Warn("chunk cache disabled", zap.Error(err))
		} else {
			s.chunks = cache
		}
	}
	return s
}

// readChunk returns a chunk's values, from the cache when possible.
func (s *Server) readChunk(runID, path string, offset int64) ([]float64, error) {
	key := chunkKey{runID: runID, path: path, offset: offset}
	if s.chunks != nil {
		if values, ok := s.chunks.Get(key); ok {
			return values, nil
		}
	}
	values, err := storage.ReadChunkAt(path, offset)
	if err != nil {
		return nil, err
	}
	if s.chunks != nil {
		s.chunks.Add(key, values)
	}
	return values, nil
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/chunks", s.handleListChunks)
		r.Get("/runs/{id}/pair", s.handlePair)
		r.Get("/histograms", s.handleHistograms)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
