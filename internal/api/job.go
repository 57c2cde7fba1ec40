package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dstauffer/kiln/internal/engine"
	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	ExperimentID int64          `json:"experiment_id"`
	Name         string         `json:"name"`
	ModelKind    string         `json:"model_kind"`
	Parameters   *paramsRequest `json:"parameters"`
}

// paramsRequest mirrors model.Parameters with pointer fields so that omitted
// keys can be told apart from explicit zero values and filled with defaults.
type paramsRequest struct {
	Epochs       *int     `json:"epochs"`
	BatchSize    *int     `json:"batch_size"`
	LearningRate *float64 `json:"learning_rate"`
	Optimizer    *string  `json:"optimizer"`
	Momentum     *float64 `json:"momentum"`
	DropoutRate  *float64 `json:"dropout_rate"`
	HiddenSize   *int     `json:"hidden_size"`
	KernelSize   *int     `json:"kernel_size"`
	NumLayers    *int     `json:"num_layers"`
	UseScheduler *bool    `json:"use_scheduler"`
}

// merge overlays the provided keys onto the defaults.
func (p *paramsRequest) merge() model.Parameters {
	out := model.DefaultParameters()
	if p == nil {
		return out
	}
	if p.Epochs != nil {
		out.Epochs = *p.Epochs
	}
	if p.BatchSize != nil {
		out.BatchSize = *p.BatchSize
	}
	if p.LearningRate != nil {
		out.LearningRate = *p.LearningRate
	}
	if p.Optimizer != nil {
		out.Optimizer = *p.Optimizer
	}
	if p.Momentum != nil {
		out.Momentum = *p.Momentum
	}
	if p.DropoutRate != nil {
		out.DropoutRate = *p.DropoutRate
	}
	if p.HiddenSize != nil {
		out.HiddenSize = *p.HiddenSize
	}
	if p.KernelSize != nil {
		out.KernelSize = *p.KernelSize
	}
	if p.NumLayers != nil {
		out.NumLayers = *p.NumLayers
	}
	if p.UseScheduler != nil {
		out.UseScheduler = *p.UseScheduler
	}
	return out
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs  []*model.Job `json:"jobs"`
	Total int          `json:"total"`
	Limit int          `json:"limit"`
	Skip  int          `json:"skip"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ExperimentID == 0 {
		s.writeError(w, http.StatusBadRequest, "experiment_id is required")
		return
	}
	if req.ModelKind == "" {
		s.writeError(w, http.StatusBadRequest, "model_kind is required")
		return
	}

	job, duplicate, err := s.engine.Submit(r.Context(), req.ExperimentID, req.Name, req.ModelKind, req.Parameters.merge())
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "experiment not found")
		case errors.As(err, &verr):
			s.writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, engine.ErrBusy):
			s.writeError(w, http.StatusTooManyRequests, "execution queue is full")
		default:
			s.logger.Error("submit job", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	// An equivalent job already existed; return it instead of a new record.
	if duplicate {
		s.writeJSON(w, http.StatusOK, job)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	job, err := s.store.GetJob(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, skip := pagination(r)
	experimentID := int64(parseIntQuery(r, "experiment_id", 0))

	jobs, total, err := s.store.ListJobs(r.Context(), experimentID, limit, skip)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:  jobs,
		Total: total,
		Limit: limit,
		Skip:  skip,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := s.engine.Cancel(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, store.ErrInvalidTransition):
			s.writeError(w, http.StatusConflict, "job is already finished")
		default:
			s.logger.Error("cancel job", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	job, err := s.store.GetJob(r.Context(), token)
	if err != nil {
		s.logger.Error("get cancelled job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := s.store.DeleteJob(r.Context(), token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("delete job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListKinds reports the model kinds with a registered trainer.
func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"kinds": s.trainers.Kinds()})
}
