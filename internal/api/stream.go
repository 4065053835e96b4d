package api

import (
	"fmt"
	"net/http"
	"time"
)

// stream handles GET /api/stream, upgrading the connection to a
// text/event-stream and relaying every broadcast frame until the client
// disconnects.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.state.Hub.Subscribe()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "SSE client limit reached",
			"max_clients": h.state.Config.MaxSSEClients,
		})
		return
	}
	defer sub.Unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		internalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"payload\":{\"client_id\":%d}}\n\n", sub.ID)
	flusher.Flush()

	ticker := time.NewTicker(h.state.Config.SSEHeartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-sub.Messages:
			if !open {
				return
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
