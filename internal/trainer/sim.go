package trainer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dstauffer/kiln/internal/model"
)

const (
	// trainSetSize mirrors the MNIST training set the curves are modeled on.
	trainSetSize = 60000

	// batchReportInterval is how many batches pass between progress events
	// within an epoch.
	batchReportInterval = 100
)

// Simulator is an in-process trainable unit. It synthesizes loss and accuracy
// curves shaped by the hyperparameters instead of running a real model, which
// keeps the orchestration layer exercisable without an accelerator.
type Simulator struct {
	kind       string
	params     model.Parameters
	epochDelay time.Duration
}

// NewSimulatorFactory returns a Factory producing simulators for the given
// model kind. epochDelay is the wall-clock cost charged per simulated epoch;
// zero makes runs complete as fast as the scheduler allows.
func NewSimulatorFactory(kind string, epochDelay time.Duration) Factory {
	return func(params model.Parameters) (Trainer, error) {
		if !model.ValidModelKind(kind) {
			return nil, fmt.Errorf("unsupported model kind %q", kind)
		}
		return &Simulator{kind: kind, params: params, epochDelay: epochDelay}, nil
	}
}

// Train runs the simulated training loop. Progress is reported every
// batchReportInterval batches and once per epoch; cancellation is checked at
// each report point and between epochs.
func (s *Simulator) Train(ctx context.Context, spec Spec, report ProgressFunc) (model.Result, error) {
	rng := rand.New(rand.NewPCG(seedFor(spec.JobToken), 0))
	start := time.Now()

	history := map[string][]float64{
		model.SeriesTrainLoss:     {},
		model.SeriesTrainAccuracy: {},
		model.SeriesValLoss:       {},
		model.SeriesValAccuracy:   {},
		model.SeriesEpochTimes:    {},
	}

	batches := (trainSetSize + spec.BatchSize - 1) / spec.BatchSize
	lr := spec.LearningRate
	bestAccuracy := 0.0
	plateau := 0
	prevValLoss := math.Inf(1)

	for epoch := 1; epoch <= spec.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return model.Result{}, err
		}
		epochStart := time.Now()

		trainLoss, trainAcc := s.epochMetrics(rng, epoch, lr, spec)

		for batch := 0; batch < batches; batch += batchReportInterval {
			if err := ctx.Err(); err != nil {
				return model.Result{}, err
			}
			if s.epochDelay > 0 {
				sleepCtx(ctx, s.epochDelay/time.Duration(1+batches/batchReportInterval))
			}
			done := batch * spec.BatchSize
			if report != nil {
				report(model.Event{
					Status:        model.StatusRunning,
					Epoch:         epoch,
					EpochsTotal:   spec.Epochs,
					Batch:         fmt.Sprintf("%d/%d", done, trainSetSize),
					Progress:      100 * float64(batch) / float64(batches),
					TrainLoss:     trainLoss * (1 + 0.2*(1-float64(batch)/float64(batches))),
					TrainAccuracy: trainAcc * (0.9 + 0.1*float64(batch)/float64(batches)),
				})
			}
		}

		// Validation tracks training with a small generalization gap.
		valLoss := trainLoss * (1.05 + 0.05*rng.Float64())
		valAcc := trainAcc - 0.5 - rng.Float64()
		if valAcc > bestAccuracy {
			bestAccuracy = valAcc
		}

		// ReduceLROnPlateau behavior: halve the learning rate after two
		// epochs without validation loss improvement.
		if spec.UseScheduler {
			if valLoss >= prevValLoss {
				plateau++
				if plateau >= 2 {
					lr /= 2
					plateau = 0
				}
			} else {
				plateau = 0
			}
			prevValLoss = valLoss
		}

		epochTime := time.Since(epochStart).Seconds()
		history[model.SeriesTrainLoss] = append(history[model.SeriesTrainLoss], trainLoss)
		history[model.SeriesTrainAccuracy] = append(history[model.SeriesTrainAccuracy], trainAcc)
		history[model.SeriesValLoss] = append(history[model.SeriesValLoss], valLoss)
		history[model.SeriesValAccuracy] = append(history[model.SeriesValAccuracy], valAcc)
		history[model.SeriesEpochTimes] = append(history[model.SeriesEpochTimes], epochTime)

		if report != nil {
			report(model.Event{
				Status:        model.StatusRunning,
				Epoch:         epoch,
				EpochsTotal:   spec.Epochs,
				TrainLoss:     trainLoss,
				TrainAccuracy: trainAcc,
				ValLoss:       valLoss,
				ValAccuracy:   valAcc,
				EpochTime:     epochTime,
			})
		}
	}

	return model.Result{
		BestMetric:       bestAccuracy,
		TotalTimeSeconds: time.Since(start).Seconds(),
		History:          history,
	}, nil
}

// epochMetrics computes the training loss and accuracy for one epoch: an
// exponential loss decay whose rate depends on the optimizer and learning
// rate, with capacity from the architecture knobs nudging the asymptote.
func (s *Simulator) epochMetrics(rng *rand.Rand, epoch int, lr float64, spec Spec) (loss, accuracy float64) {
	rate := 40 * lr
	if spec.Optimizer == model.OptimizerAdam {
		rate *= 1.5
	} else {
		rate *= 1 + spec.Momentum/2
	}

	capacity := 0.0
	switch s.kind {
	case model.KindCNN:
		capacity = 1.5 + 0.2*float64(s.params.KernelSize)
	case model.KindMLP, model.KindRNN:
		capacity = float64(s.params.NumLayers) * math.Log2(float64(s.params.HiddenSize)) / 8
	}
	ceiling := 99.2 - 2/capacity - 2*s.params.DropoutRate

	decay := math.Exp(-rate * float64(epoch))
	loss = 0.05 + 2.2*decay + 0.02*rng.Float64()
	accuracy = ceiling - (ceiling-45)*decay + 0.3*rng.Float64()
	return loss, accuracy
}

// seedFor derives a stable RNG seed from the job token so reruns of the same
// job produce comparable curves.
func seedFor(token string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(token))
	return h.Sum64()
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
