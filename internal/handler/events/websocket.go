// Package events pushes turn-append notifications to websocket clients.
package events

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mindwell-ai/mindwell/backend/internal/model/chat"
	"github.com/mindwell-ai/mindwell/backend/internal/service/session"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades clients and relays turn events from the session engine.
type Handler struct {
	engine   *session.Engine
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(engine *session.Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleWebSocket)
}

type outgoingMessage struct {
	Type      string     `json:"type"`
	SessionID string     `json:"sessionId,omitempty"`
	Turn      *chat.Turn `json:"turn,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := h.engine.SessionID()
	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, release := h.engine.Subscribe()
	defer release()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// drain client frames so pongs and close frames are processed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}
		}
	}()

	if err := conn.WriteJSON(outgoingMessage{
		Type:      "connected",
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		log.Printf("[websocket] write hello failed: %v", err)
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[websocket] closing connection for session: %s", sessionID)
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case turn, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outgoingMessage{
				Type:      "turn",
				SessionID: sessionID,
				Turn:      &turn,
				Timestamp: time.Now().Unix(),
			}); err != nil {
				log.Printf("[websocket] write turn failed: %v", err)
				return
			}
		}
	}
}
