package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
)

// KeyEvents handles GET /api/v1/keys/events: a websocket stream of
// lifecycle events. Recent history is replayed first (bounded by the
// optional ?recent= parameter), then live events until the client goes
// away.
func KeyEvents(w http.ResponseWriter, r *http.Request) {
	if EventHub == nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream not initialized")
		return
	}

	recent := 50
	if s := r.URL.Query().Get("recent"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid recent")
			return
		}
		recent = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[events] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ch, cancel := EventHub.Subscribe()
	defer cancel()

	for _, ev := range EventHub.Recent(recent) {
		data, _ := json.Marshal(ev)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}

	// Discard client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
