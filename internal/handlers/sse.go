package handlers

import (
	"fmt"
	"net/http"
)

// StreamHandler bridges the current user's realtime channel to the browser
// over SSE. No persistence: a client that reconnects later catches up from
// the notifications list instead.
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	pubsub := h.Broadcast.Subscribe(r.Context(), userID)
	defer pubsub.Close()

	ch := pubsub.Channel()

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	flusher.Flush()

	for {
		select {
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
