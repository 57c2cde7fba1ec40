package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Model kind constants.
const (
	KindCNN = "cnn"
	KindMLP = "mlp"
	KindRNN = "rnn"
)

// ModelKinds lists every supported model kind.
var ModelKinds = []string{KindCNN, KindMLP, KindRNN}

// ValidModelKind reports whether kind is a supported model kind.
func ValidModelKind(kind string) bool {
	switch kind {
	case KindCNN, KindMLP, KindRNN:
		return true
	}
	return false
}

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses (completed, failed, cancelled) have no outgoing transitions.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is a terminal job status.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Job represents one scheduled unit of training with fixed parameters.
// Token is the externally visible handle, distinct from the storage row id.
type Job struct {
	Token            string               `json:"job_token"`
	ExperimentID     int64                `json:"experiment_id"`
	Name             string               `json:"name"`
	ModelKind        string               `json:"model_kind"`
	Parameters       Parameters           `json:"parameters"`
	Status           string               `json:"status"`
	BestMetric       *float64             `json:"best_metric,omitempty"`
	TotalTimeSeconds *float64             `json:"total_time_seconds,omitempty"`
	EpochsCompleted  int                  `json:"epochs_completed"`
	History          map[string][]float64 `json:"history,omitempty"`
	Error            string               `json:"error,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
}
