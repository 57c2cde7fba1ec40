package engine

import (
	"sync"

	"github.com/dstauffer/kiln/internal/model"
)

// observerBufferSize is the channel buffer for each registered observer.
// Events are dropped if an observer falls this far behind.
const observerBufferSize = 64

// Envelope is the payload delivered to observers: the job a status event
// belongs to, plus the event itself.
type Envelope struct {
	JobToken string      `json:"job_token"`
	Event    model.Event `json:"event"`
}

type observer struct {
	ch       chan Envelope
	jobToken string // empty subscribes to every job
}

// Hub tracks connected observers and fans status events out to them.
// Subscriptions are keyed by job token, with an all-jobs subscription for
// dashboard-style observers. It is safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	observers map[string]*observer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		observers: make(map[string]*observer),
	}
}

// Register adds an observer under the given id and returns its event channel
// and an unregister function. jobToken scopes the subscription to one job;
// an empty token receives events for all jobs. Registering an id that is
// already present replaces the previous observer.
func (h *Hub) Register(id, jobToken string) (<-chan Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.observers[id]; ok {
		close(prev.ch)
	}

	o := &observer{
		ch:       make(chan Envelope, observerBufferSize),
		jobToken: jobToken,
	}
	h.observers[id] = o
	observersConnected.Set(float64(len(h.observers)))

	return o.ch, func() { h.unregister(id, o) }
}

func (h *Hub) unregister(id string, o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only remove if the slot still holds this observer; a re-register under
	// the same id must not be torn down by the old connection's cleanup.
	if cur, ok := h.observers[id]; ok && cur == o {
		delete(h.observers, id)
		close(o.ch)
		observersConnected.Set(float64(len(h.observers)))
	}
}

// Broadcast delivers the event to every observer subscribed to the job and to
// every all-jobs observer. Events are dropped for observers whose buffers are
// full; a slow observer never blocks delivery to others or the emitting
// execution unit.
func (h *Hub) Broadcast(jobToken string, ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, o := range h.observers {
		if o.jobToken != "" && o.jobToken != jobToken {
			continue
		}
		select {
		case o.ch <- Envelope{JobToken: jobToken, Event: ev}:
			eventsBroadcast.Inc()
		default:
		}
	}
}
