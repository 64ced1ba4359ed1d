package api

import "net/http"

type checkersResponse struct {
	Checkers []string `json:"checkers"`
	Active   string   `json:"active"`
}

func (s *Server) handleListCheckers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, checkersResponse{
		Checkers: s.registry.List(),
		Active:   s.engine.Checker(),
	})
}
