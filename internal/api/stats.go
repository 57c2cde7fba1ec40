package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByKind          map[string]int `json:"by_kind"`
	AvgTrainSeconds float64        `json:"avg_train_seconds"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:           stats.Total,
		ByStatus:        stats.CountByStatus,
		ByKind:          stats.CountByKind,
		AvgTrainSeconds: stats.AvgTrainSeconds,
	})
}
