package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealthz reports liveness, verifying the store answers queries.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.GetJobStats(ctx); err != nil {
		s.logger.Error("healthz store check", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
