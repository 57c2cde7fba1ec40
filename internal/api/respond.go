package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	q := r.URL.Query().Get(key)
	if q == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return defaultVal
	}
	return v
}

// pagination extracts skip/limit query parameters with bounds applied.
func pagination(r *http.Request) (limit, skip int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	skip = parseIntQuery(r, "skip", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}
