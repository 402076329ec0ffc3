package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleEvaluationsWS streams evaluation progress over a websocket. The
// client names the evaluation in the query string; frames are watchEvent
// JSON, the same payload the SSE endpoint sends.
func (s *apiServer) handleEvaluationsWS(w http.ResponseWriter, r *http.Request) {
	evaluationID := strings.TrimSpace(r.URL.Query().Get("evaluation_id"))
	if evaluationID == "" {
		http.Error(w, "evaluation_id is required", http.StatusBadRequest)
		return
	}

	eventCh, cancel, err := s.registry.subscribe(evaluationID)
	if err != nil {
		http.Error(w, "evaluation not found", http.StatusNotFound)
		return
	}
	defer cancel()

	conn, upgradeErr := watchWSUpgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	if err := conn.SetReadDeadline(time.Now().Add(watchWSPongWait)); err != nil {
		log.Printf("watch ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})

	// Reader goroutine: we never expect client frames, but reading drives
	// pong handling and detects the peer going away.
	go func() {
		defer cancelCtx()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchWSPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Type == eventComplete || event.Type == eventError {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
