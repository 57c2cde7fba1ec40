package trainer

import (
	"context"

	"github.com/dstauffer/kiln/internal/model"
)

// ProgressFunc receives progress events emitted during a training run. It is
// called zero or more times, always from the goroutine executing the run.
type ProgressFunc func(ev model.Event)

// Spec carries the run parameters for one training invocation. Architecture
// parameters are fixed at construction time via the Factory; everything here
// controls the run itself.
type Spec struct {
	JobToken     string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	Momentum     float64
	UseScheduler bool
}

// SpecFor splits a job's parameter record into the run half of the
// construction/run split and pairs it with the job token.
func SpecFor(token string, p model.Parameters) Spec {
	return Spec{
		JobToken:     token,
		Epochs:       p.Epochs,
		BatchSize:    p.BatchSize,
		LearningRate: p.LearningRate,
		Optimizer:    p.Optimizer,
		Momentum:     p.Momentum,
		UseScheduler: p.UseScheduler,
	}
}

// Trainer is the interface every trainable unit implements. A Trainer is
// constructed once per job with its architecture parameters and then run once.
type Trainer interface {
	// Train runs the unit to completion, reporting progress through report.
	// It honors ctx cancellation between units of work and returns ctx.Err()
	// when interrupted. On success it returns the final result; the caller
	// is responsible for emitting the terminal event.
	Train(ctx context.Context, spec Spec, report ProgressFunc) (model.Result, error)
}
