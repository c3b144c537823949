package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clienthub/automation/internal/streaming"
)

// handleSSEGlobal streams all execution events via Server-Sent Events.
// Optional ?types=a,b narrows the stream to specific event types.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	filter := streaming.EventFilter{}
	if v := r.URL.Query()["types"]; len(v) > 0 {
		filter.EventTypes = v
	}
	s.serveSSE(w, r, filter)
}

// handleSSEExecution streams events for one execution.
func (s *Server) handleSSEExecution(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{ExecutionID: r.PathValue("id")})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if s.deps.Hub == nil {
		http.Error(w, "event streaming disabled", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
