package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Message is the WebSocket message envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub maintains the set of live WebSocket connections keyed by connection
// ID and delivers messages to them. Delivery is best-effort: a client
// whose send buffer is full misses the message rather than stalling the
// sender, which keeps broadcast safe inside the coordinator's critical
// section.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn", c.ID))
}

// Unregister removes a client from the hub, closing its send channel so
// the write loop drains and exits. Safe to call after Close.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("conn", c.ID))
}

// Send queues an encoded event for one connection. Unknown connections
// and full buffers are dropped silently. The channel send happens under
// the read lock so it can never race a Close of the same channel.
func (h *Hub) Send(connID, event string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[connID]
	if c == nil {
		return
	}
	select {
	case c.send <- Message{Event: event, Data: data}:
	default:
		// buffer full, skip
	}
}

// Close removes a connection and closes its send channel. Queued messages
// are still flushed by the write loop before the socket closes.
func (h *Hub) Close(connID string) {
	h.mu.Lock()
	if c, ok := h.clients[connID]; ok {
		delete(h.clients, connID)
		close(c.send)
	}
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
