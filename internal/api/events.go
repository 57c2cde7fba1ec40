package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
)

// handleStreamEvents streams a job's status events as server-sent events
// until the job reaches a terminal status or the client disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	job, err := s.store.GetJob(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Already terminal: nothing will be emitted, close the stream right away.
	if model.Terminal(job.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe scoped to this job, then re-check the status. The pipeline
	// persists a terminal status before broadcasting it, so a job still
	// non-terminal after the subscription is in place will deliver its
	// terminal event through the channel.
	ch, unsub := s.engine.Hub().Register("sse-"+model.NewToken(), token)
	defer unsub()

	if job, err = s.store.GetJob(r.Context(), token); err == nil && model.Terminal(job.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEData(w, env); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
			if env.Event.Terminal() {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEData writes one payload as a JSON SSE data event.
func writeSSEData(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	// Blank line terminates the event.
	_, err = w.Write([]byte("\n\n"))
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := w.Write([]byte("event: " + eventType + "\n")); err != nil {
		return err
	}
	_, err := w.Write([]byte("data: " + data + "\n\n"))
	return err
}
