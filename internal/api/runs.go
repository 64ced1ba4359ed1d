package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// resultsResponse is the JSON response for GET /v1/runs/{id}/results.
type resultsResponse struct {
	RunID   string         `json:"run_id"`
	Results []model.Result `json:"results"`
}

type conflictResponse struct {
	Error     string `json:"error"`
	ActiveRun string `json:"active_run,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Submit(r.Context(), model.TriggerAPI)
	if errors.Is(err, engine.ErrRunInProgress) {
		runSubmissions.WithLabelValues(submitConflict).Inc()
		active, _ := s.engine.Active()
		s.writeJSON(w, http.StatusConflict, conflictResponse{Error: err.Error(), ActiveRun: active})
		return
	}
	if err != nil {
		runSubmissions.WithLabelValues(submitError).Inc()
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	runSubmissions.WithLabelValues(submitAccepted).Inc()
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run for results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	results, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		s.logger.Error("get results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get results")
		return
	}

	if results == nil {
		results = []model.Result{}
	}
	s.writeJSON(w, http.StatusOK, resultsResponse{RunID: id, Results: results})
}
