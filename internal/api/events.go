package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/store"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// lookupRun fetches a run for a streaming endpoint, writing the error
// response itself when the run cannot be loaded.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get run for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	return run, true
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	// A finished run has nothing left to stream.
	if model.Terminal(run.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", run.Status)
		flush()
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing after the run finished yields a closed channel, so the loop
	// below exits immediately in that case.
	ch, unsub := s.engine.Broker().Subscribe(run.ID)
	defer unsub()
	defer trackStream("sse")()

	w.WriteHeader(http.StatusOK)
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if err := writeSSEJSON(w, ev); err != nil {
				return
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", run.ID, "error", err)
		return
	}
	defer conn.Close()

	if model.Terminal(run.Status) {
		s.closeWS(conn, run.Status)
		return
	}

	ch, unsub := s.engine.Broker().Subscribe(run.ID)
	defer unsub()
	defer trackStream("ws")()

	// Drain client frames so control messages are handled and a
	// disconnect is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				s.closeWS(conn, "stream complete")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "run_id", run.ID, "error", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.logger.Debug("websocket close failed", "error", err)
	}
}

// writeSSEJSON writes an event as a named SSE event with a JSON payload.
func writeSSEJSON(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, ev.Type, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
