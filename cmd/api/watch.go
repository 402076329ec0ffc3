package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// handleWatchSSE streams evaluation progress as Server-Sent Events.
func (s *apiServer) handleWatchSSE(w http.ResponseWriter, r *http.Request) {
	// Extract evaluation id from path: /api/watch/{id}
	evaluationID := strings.TrimPrefix(r.URL.Path, "/api/watch/")
	if evaluationID == "" {
		http.Error(w, "evaluation id required", http.StatusBadRequest)
		return
	}

	eventCh, cancel, err := s.registry.subscribe(evaluationID)
	if err != nil {
		http.Error(w, "evaluation not found", http.StatusNotFound)
		return
	}
	defer cancel()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, send final message
				fmt.Fprintf(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

			// Close on terminal events
			if event.Type == eventComplete || event.Type == eventError {
				return
			}
		}
	}
}
