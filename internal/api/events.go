package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hgdev/sonos-bridge/internal/hub"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bridge serves a LAN. Origin checks would only break local tooling.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterEventRoutes wires the WebSocket change-event stream to the router.
func RegisterEventRoutes(router chi.Router, events *hub.Broadcaster) {
	router.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		// Subscribe before the handshake completes so no event published
		// right after the client connects is lost.
		ch, cancel := events.Subscribe()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cancel()
			log.Printf("API: event stream upgrade: %v", err)
			return
		}
		go streamEvents(conn, ch, cancel)
	})
}

// streamEvents pushes change events to one WebSocket client until it goes
// away. The read loop exists only to notice the close.
func streamEvents(conn *websocket.Conn, ch <-chan hub.ChangeEvent, cancel func()) {
	defer cancel()
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
