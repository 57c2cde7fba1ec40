package engine

import (
	"context"
	"log/slog"

	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
)

// Pipeline moves status events from execution units to persisted job state
// and to connected observers. It is the single entry point for events; each
// execution unit calls OnEvent synchronously from its own goroutine, so
// events for one job are processed in emission order.
type Pipeline struct {
	store  store.Store
	hub    *Hub
	logger *slog.Logger
}

// NewPipeline creates a status pipeline writing to s and broadcasting via hub.
func NewPipeline(s store.Store, hub *Hub, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: s, hub: hub, logger: logger}
}

// OnEvent persists the event's delta to the job record, then broadcasts the
// full event to observers. The two paths are independent: a store failure is
// logged and the broadcast still happens, so observers see progress even
// under transient store errors.
func (p *Pipeline) OnEvent(jobToken string, ev model.Event) {
	ctx := context.Background()

	var err error
	switch ev.Status {
	case model.StatusCompleted:
		if ev.Final != nil {
			err = p.store.CompleteJob(ctx, jobToken, ev.Final)
		}
	case model.StatusFailed:
		err = p.store.FailJob(ctx, jobToken, ev.Error)
	case model.StatusCancelled:
		// The cancel request already flipped the status; nothing to persist.
	default:
		// Batch chunks carry a still-running epoch; only epoch boundaries
		// advance the persisted progress counter.
		if ev.Epoch > 0 && ev.Batch == "" {
			err = p.store.SetJobProgress(ctx, jobToken, ev.Epoch)
		}
	}
	if err != nil {
		p.logger.Error("persist status event",
			"job_token", jobToken,
			"event_status", ev.Status,
			"error", err,
		)
	}

	p.hub.Broadcast(jobToken, ev)
}
