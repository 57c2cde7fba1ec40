package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
	"github.com/dstauffer/kiln/internal/trainer"
)

// ErrBusy is returned by Submit when the admission queue is full.
var ErrBusy = errors.New("execution queue is full")

// Engine orchestrates asynchronous job execution. Accepted submissions are
// persisted in pending state and handed to a bounded worker pool; a full
// admission queue rejects the submission rather than growing without bound.
type Engine struct {
	store    store.Store
	trainers *trainer.Registry
	pipeline *Pipeline
	hub      *Hub
	logger   *slog.Logger

	queue chan string
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates an execution engine with the given worker count and
// admission queue depth, and starts its workers.
func NewEngine(s store.Store, reg *trainer.Registry, logger *slog.Logger, workers, depth int) *Engine {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}

	hub := NewHub()
	e := &Engine{
		store:    s,
		trainers: reg,
		hub:      hub,
		logger:   logger,
		queue:    make(chan string, depth),
		cancels:  make(map[string]context.CancelFunc),
	}
	e.pipeline = NewPipeline(s, hub, logger)

	for range workers {
		e.wg.Go(e.worker)
	}

	return e
}

// Hub returns the engine's observer hub for WebSocket and SSE subscription.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Submit validates the request, runs duplicate detection, persists a new job
// in pending state and enqueues it for execution. The call returns before
// execution completes. If an equivalent job already exists it is returned
// with duplicate=true and no new job is created or scheduled.
func (e *Engine) Submit(ctx context.Context, experimentID int64, name, kind string, params model.Parameters) (job *model.Job, duplicate bool, err error) {
	if _, err := e.store.GetExperiment(ctx, experimentID); err != nil {
		return nil, false, fmt.Errorf("get experiment: %w", err)
	}
	if err := params.Validate(kind); err != nil {
		return nil, false, err
	}

	existing, err := e.findEquivalent(ctx, experimentID, kind, params)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		duplicateSubmissions.Inc()
		return existing, true, nil
	}

	job = &model.Job{
		Token:        model.NewToken(),
		ExperimentID: experimentID,
		Name:         name,
		ModelKind:    kind,
		Parameters:   params,
		Status:       model.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	select {
	case e.queue <- job.Token:
		queueDepth.Set(float64(len(e.queue)))
	default:
		// No capacity. Remove the record so a later identical submission is
		// not answered with a job that will never run.
		if derr := e.store.DeleteJob(ctx, job.Token); derr != nil {
			e.logger.Error("remove rejected job", "job_token", job.Token, "error", derr)
		}
		return nil, false, ErrBusy
	}

	return job, false, nil
}

// Cancel moves a pending or running job to cancelled and stops its execution
// unit. For a running job the trainer exits at its next cancellation
// checkpoint; for a queued job the worker's claim loses and the job never
// starts. Returns store.ErrInvalidTransition if the job is already terminal.
func (e *Engine) Cancel(ctx context.Context, token string) error {
	if err := e.store.CancelJob(ctx, token); err != nil {
		return err
	}

	e.mu.Lock()
	cancel := e.cancels[token]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Shutdown stops accepting queued work and blocks until in-flight executions
// complete. Submit must not be called after Shutdown.
func (e *Engine) Shutdown() {
	close(e.queue)
	e.wg.Wait()
}

func (e *Engine) worker() {
	for token := range e.queue {
		queueDepth.Set(float64(len(e.queue)))
		e.execute(token)
	}
}

// execute runs one job's lifecycle: claim, train, terminal event. Failures
// are contained to the job; the execution unit always leaves the job with a
// terminal status, synthesizing a failure event if the trainer panics.
func (e *Engine) execute(token string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("trainer panic", "job_token", token, "panic", r)
			e.pipeline.OnEvent(token, model.Event{
				Status: model.StatusFailed,
				Error:  fmt.Sprintf("trainer panic: %v", r),
			})
		}
	}()

	bg := context.Background()
	job, err := e.store.GetJob(bg, token)
	if err != nil {
		// Deleted while queued.
		e.logger.Warn("load queued job", "job_token", token, "error", err)
		return
	}

	// Exclusive claim: the CAS from pending to running guarantees at most one
	// execution unit ever runs a given token.
	if err := e.store.ClaimJob(bg, token); err != nil {
		e.logger.Info("claim lost", "job_token", token, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	e.mu.Lock()
	e.cancels[token] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, token)
		e.mu.Unlock()
	}()

	jobsRunning.Inc()
	defer jobsRunning.Dec()
	start := time.Now()

	e.pipeline.OnEvent(token, model.Event{
		Status:      model.StatusRunning,
		EpochsTotal: job.Parameters.Epochs,
	})

	res, err := e.train(ctx, job)
	trainDuration.WithLabelValues(job.ModelKind).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		e.pipeline.OnEvent(token, model.Event{
			Status:      model.StatusCompleted,
			Epoch:       job.Parameters.Epochs,
			EpochsTotal: job.Parameters.Epochs,
			Final:       &res,
		})
		jobsTotal.WithLabelValues(job.ModelKind, model.StatusCompleted).Inc()
		e.logger.Info("job completed", "job_token", token, "best_metric", res.BestMetric)

	case errors.Is(err, context.Canceled):
		e.pipeline.OnEvent(token, model.Event{Status: model.StatusCancelled})
		jobsTotal.WithLabelValues(job.ModelKind, model.StatusCancelled).Inc()
		e.logger.Info("job cancelled", "job_token", token)

	default:
		e.pipeline.OnEvent(token, model.Event{
			Status: model.StatusFailed,
			Error:  err.Error(),
		})
		jobsTotal.WithLabelValues(job.ModelKind, model.StatusFailed).Inc()
		e.logger.Error("job failed", "job_token", token, "error", err)
	}
}

// train resolves and constructs the trainable unit, then runs it. Progress
// events flow through the pipeline synchronously, preserving per-job order.
func (e *Engine) train(ctx context.Context, job *model.Job) (model.Result, error) {
	factory, err := e.trainers.Resolve(job.ModelKind)
	if err != nil {
		return model.Result{}, fmt.Errorf("resolve trainer: %w", err)
	}
	tr, err := factory(job.Parameters)
	if err != nil {
		return model.Result{}, fmt.Errorf("construct trainer: %w", err)
	}

	token := job.Token
	return tr.Train(ctx, trainer.SpecFor(token, job.Parameters), func(ev model.Event) {
		e.pipeline.OnEvent(token, ev)
	})
}
