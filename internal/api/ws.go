package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds a single frame write to a connected observer.
	wsWriteTimeout = 10 * time.Second

	// wsPongTimeout is how long a connection may go without answering a ping.
	wsPongTimeout = 60 * time.Second

	// wsPingInterval must be shorter than wsPongTimeout.
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST surface already allows all origins; the socket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleObserverSocket upgrades the connection and streams status envelopes
// to the observer until it disconnects. The optional job_token query
// parameter scopes the subscription to one job; without it the observer
// receives events for all jobs. Clients send no application messages; reads
// serve only to process liveness pongs and detect disconnects.
func (s *Server) handleObserverSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	jobToken := r.URL.Query().Get("job_token")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade observer socket", "client_id", clientID, "error", err)
		return
	}

	ch, unsub := s.engine.Hub().Register(clientID, jobToken)
	defer unsub()
	defer conn.Close()

	s.logger.Info("observer connected", "client_id", clientID, "job_token", jobToken)

	// Reader: discard client frames, refresh the liveness deadline on pong.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				// Replaced by a re-register under the same client id.
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				s.logger.Info("observer write failed", "client_id", clientID, "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			s.logger.Info("observer disconnected", "client_id", clientID)
			return
		}
	}
}
