// Package updates fans session lifecycle events out to subscribed UI
// websockets. The hub is an injected collaborator with its own lifecycle,
// never a package-level global.
package updates

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Event is one live-update notification.
type Event struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
}

// Event types.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// Hub is a concurrency-safe broadcast set of websocket subscribers.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Register adds a subscriber. Returns false if the hub is already closed.
func (h *Hub) Register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Publish sends the event to every subscriber. Subscribers that fail to
// receive are evicted and closed.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(ev); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close shuts down every subscriber and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}
