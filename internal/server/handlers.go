package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/embedsim/internal/models"
	"github.com/hyperjump/embedsim/internal/report"
	"github.com/hyperjump/embedsim/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.catalog.ListRuns(r.Context(), limit)
	if err != nil {
		s.catalogError(w, "list runs", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.catalog.LatestRun(r.Context())
	if err != nil {
		s.catalogError(w, "latest run", err)
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.catalog.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.catalogError(w, "get run", err)
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.catalog.GetRun(r.Context(), id); err != nil {
		s.catalogError(w, "get run", err)
		return
	}
	kinds := []models.Kind{models.KindIntra, models.KindInter}
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := models.ParseKind(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = []models.Kind{k}
	}
	resp := make(map[string][]storage.ChunkRef, len(kinds))
	for _, k := range kinds {
		refs, err := s.catalog.ListChunks(r.Context(), id, k)
		if err != nil {
			s.catalogError(w, "list chunks", err)
			return
		}
		if refs == nil {
			refs = []storage.ChunkRef{}
		}
		resp[k.String()] = refs
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type pairResponse struct {
	Chunk  *storage.ChunkRef `json:"chunk"`
	Values []float64         `json:"values"`
}

// handlePair returns the sample of two tracks (?a=&b=); a == b gives the intra sample.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		s.respondError(w, http.StatusBadRequest, "track keys a and b are required")
		return
	}
	run, err := s.catalog.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.catalogError(w, "get run", err)
		return
	}
	if run.SupersededBy != "" {
		s.respondError(w, http.StatusGone, "run "+run.ID+" streams were rewritten by run "+run.SupersededBy)
		return
	}
	ref, err := s.catalog.LookupChunk(r.Context(), run.ID, a, b)
	if err != nil {
		s.catalogError(w, "lookup chunk", err)
		return
	}
	path := run.StreamPath(ref.Kind)
	values, err := s.readChunk(run.ID, path, ref.Offset)
	if err != nil {
		s.logger.Error("read chunk failed", zap.String("path", path), zap.Int64("offset", ref.Offset), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, pairResponse{Chunk: ref, Values: values})
}

// handleHistograms serves the recorded histograms if they belong to the latest run.
func (s *Server) handleHistograms(w http.ResponseWriter, r *http.Request) {
	path := s.output.Path(s.output.HistogramJSON)
	if path == "" {
		s.respondError(w, http.StatusNotFound, "histogram output is disabled")
		return
	}
	h, err := report.ReadJSON(path)
	if err != nil {
		var ioErr *models.IOError
		if errors.As(err, &ioErr) {
			s.respondError(w, http.StatusNotFound, "no histograms recorded")
			return
		}
		s.logger.Error("read histograms failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run, err := s.catalog.LatestRun(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.catalogError(w, "latest run", err)
		return
	}
	if run != nil && h.RunID != "" && h.RunID != run.ID {
		s.respondError(w, http.StatusNotFound, "no histograms recorded for latest run "+run.ID)
		return
	}
	s.respondJSON(w, http.StatusOK, h)
}

func (s *Server) catalogError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
