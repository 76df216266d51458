package web

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// hub fans session events out to every websocket subscribed to that
// session.
type hub struct {
	log zerolog.Logger

	mu    sync.Mutex
	conns map[string][]*websocket.Conn
}

func newHub(log zerolog.Logger) *hub {
	return &hub{log: log, conns: map[string][]*websocket.Conn{}}
}

func (h *hub) subscribe(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = append(h.conns[sessionID], conn)
}

func (h *hub) unsubscribe(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.conns[sessionID][:0]
	for _, c := range h.conns[sessionID] {
		if c != conn {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(h.conns, sessionID)
	} else {
		h.conns[sessionID] = kept
	}
}

// broadcast sends one JSON event to every subscriber of the session.
// Dead connections are dropped on write failure.
func (h *hub) broadcast(sessionID string, event map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.conns[sessionID][:0]
	for _, c := range h.conns[sessionID] {
		if err := c.WriteJSON(event); err != nil {
			h.log.Debug().Err(err).Str("session_id", sessionID).Msg("dropping websocket")
			_ = c.Close()
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(h.conns, sessionID)
	} else {
		h.conns[sessionID] = kept
	}
}
