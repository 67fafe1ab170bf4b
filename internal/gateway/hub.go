package gateway

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks connected WebSocket invoke clients.
type Hub struct {
	svc *Service
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a Hub whose clients call into svc.
func NewHub(svc *Service) *Hub {
	return &Hub{
		svc:     svc,
		log:     slog.Default().With("component", "gateway"),
		clients: make(map[*Client]bool),
	}
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.svc.metrics.WSClientDelta(1)
	h.log.Info("ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.svc.metrics.WSClientDelta(-1)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
