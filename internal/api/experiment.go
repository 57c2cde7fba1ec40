package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
)

// createExperimentRequest is the JSON body for POST /v1/experiments.
type createExperimentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// listExperimentsResponse wraps the paginated list response.
type listExperimentsResponse struct {
	Experiments []*model.Experiment `json:"experiments"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Skip        int                 `json:"skip"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now().UTC()
	exp := &model.Experiment{
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateExperiment(r.Context(), exp); err != nil {
		s.logger.Error("create experiment", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create experiment")
		return
	}

	s.writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid experiment id")
		return
	}

	exp, err := s.store.GetExperiment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	if err != nil {
		s.logger.Error("get experiment", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get experiment")
		return
	}

	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	limit, skip := pagination(r)

	experiments, total, err := s.store.ListExperiments(r.Context(), limit, skip)
	if err != nil {
		s.logger.Error("list experiments", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list experiments")
		return
	}

	if experiments == nil {
		experiments = []*model.Experiment{}
	}

	s.writeJSON(w, http.StatusOK, listExperimentsResponse{
		Experiments: experiments,
		Total:       total,
		Limit:       limit,
		Skip:        skip,
	})
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid experiment id")
		return
	}

	if err := s.store.DeleteExperiment(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		s.logger.Error("delete experiment", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete experiment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
