package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks active relay clients so shutdown can close them all.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client registered", zap.Int("total_clients", total))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client unregistered", zap.Int("total_clients", total))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connected client.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	h.logger.Info("websocket hub stopped")
}
