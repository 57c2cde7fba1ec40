package model

// History series names recorded by the trainer, one value per epoch.
const (
	SeriesTrainLoss     = "train_loss"
	SeriesTrainAccuracy = "train_accuracy"
	SeriesValLoss       = "val_loss"
	SeriesValAccuracy   = "val_accuracy"
	SeriesEpochTimes    = "epoch_times"
)

// Result holds the final outcome of a successful training run.
type Result struct {
	BestMetric       float64              `json:"best_metric"`
	TotalTimeSeconds float64              `json:"total_time_seconds"`
	History          map[string][]float64 `json:"history"`
}

// Event is a progress or terminal-outcome payload emitted during execution.
// Progress events carry per-batch or per-epoch metrics; a terminal event
// carries either a final result or an error description.
type Event struct {
	Status        string  `json:"status"`
	Epoch         int     `json:"epoch,omitempty"`
	EpochsTotal   int     `json:"epochs_total,omitempty"`
	Batch         string  `json:"batch,omitempty"`
	Progress      float64 `json:"progress,omitempty"`
	TrainLoss     float64 `json:"train_loss,omitempty"`
	TrainAccuracy float64 `json:"train_accuracy,omitempty"`
	ValLoss       float64 `json:"val_loss,omitempty"`
	ValAccuracy   float64 `json:"val_accuracy,omitempty"`
	EpochTime     float64 `json:"epoch_time,omitempty"`
	Error         string  `json:"error,omitempty"`
	Final         *Result `json:"final,omitempty"`
}

// Terminal reports whether the event closes the job's lifecycle.
func (e Event) Terminal() bool {
	return Terminal(e.Status)
}
