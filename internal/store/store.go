package store

import (
	"context"
	"errors"

	"github.com/dstauffer/kiln/internal/model"
)

// ErrNotFound is returned when an experiment or job lookup misses.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a job status transition is not allowed,
// e.g. cancelling a job that already reached a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByKind     map[string]int `json:"count_by_kind"`
	AvgTrainSeconds float64        `json:"avg_train_seconds"`
}

// Store defines the persistence operations for experiments and jobs.
// Every mutation is atomic per row.
type Store interface {
	CreateExperiment(ctx context.Context, e *model.Experiment) error
	GetExperiment(ctx context.Context, id int64) (*model.Experiment, error)
	ListExperiments(ctx context.Context, limit, offset int) ([]*model.Experiment, int, error)
	// DeleteExperiment removes the experiment and all of its jobs.
	DeleteExperiment(ctx context.Context, id int64) error

	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, token string) (*model.Job, error)
	// ListJobs returns jobs without their history series. experimentID 0
	// means no experiment filter.
	ListJobs(ctx context.Context, experimentID int64, limit, offset int) ([]*model.Job, int, error)
	// ListJobsByKind returns all jobs for an experiment and model kind in
	// ascending creation order, for duplicate detection.
	ListJobsByKind(ctx context.Context, experimentID int64, kind string) ([]*model.Job, error)
	// ClaimJob atomically moves a job from pending to running and sets
	// started_at. Returns ErrInvalidTransition if the job is no longer
	// pending, so at most one caller ever wins the claim.
	ClaimJob(ctx context.Context, token string) error
	SetJobProgress(ctx context.Context, token string, epochsCompleted int) error
	CompleteJob(ctx context.Context, token string, res *model.Result) error
	FailJob(ctx context.Context, token string, errMsg string) error
	// CancelJob atomically moves a job from pending or running to cancelled
	// and sets completed_at. Returns ErrInvalidTransition if the job is
	// already terminal.
	CancelJob(ctx context.Context, token string) error
	DeleteJob(ctx context.Context, token string) error
	GetJobStats(ctx context.Context) (*JobStats, error)

	Close() error
}
