package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Checker   string `json:"checker"`
	ActiveRun string `json:"active_run,omitempty"`
}

// handleHealthz reports whether the run store is reachable and which run, if
// any, is in progress. An unreachable store answers 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok", Checker: s.engine.Checker()}
	if id, ok := s.engine.Active(); ok {
		resp.ActiveRun = id
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: store unreachable", "error", err)
		resp.Status = "unavailable"
		resp.Store = "unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}
