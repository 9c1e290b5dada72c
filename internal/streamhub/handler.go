package streamhub

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
)

// Handler serves an open stream as text/event-stream, writing a keepalive
// when no real event has arrived within the stream's keepalive interval and
// terminating once the stream status leaves "active" or the client
// disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := mux.Vars(r)["stream_id"]

		h.mu.RLock()
		s, ok := h.streams[streamID]
		h.mu.RUnlock()
		if !ok {
			httputil.NotFound(w, "stream not found")
			return
		}

		flusher, canFlush := w.(http.Flusher)
		if !canFlush {
			httputil.InternalError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Stream-ID", streamID)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		s.addClient()
		defer func() {
			if s.removeClient() <= 0 {
				s.setStatus(StatusCompleted)
			}
		}()

		ticker := newKeepaliveTicker(s.keepaliveInterval)
		defer ticker.stop()

		ctx := r.Context()
		for s.getStatus() == StatusActive {
			select {
			case <-ctx.Done():
				return
			case event := <-s.events:
				s.recordSent()
				if !writeEvent(w, flusher, event) {
					return
				}
				if event.Type == EventComplete {
					s.setStatus(StatusCompleted)
				} else if event.Type == EventError {
					s.setStatus(StatusError)
				}
			case <-ticker.c:
				keepalive := newEvent(EventKeepalive, map[string]interface{}{})
				if !writeEvent(w, flusher, keepalive) {
					return
				}
			}
		}

		if s.getStatus() == StatusCompleted {
			final := newEvent(EventComplete, map[string]interface{}{"message": "stream completed"})
			writeEvent(w, flusher, final)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) bool {
	formatted, err := event.Format()
	if err != nil {
		return false
	}
	if _, err := fmt.Fprint(w, formatted); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
