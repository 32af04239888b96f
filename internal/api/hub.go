// Package api exposes the read-only monitoring surface of the engine: a
// small gin HTTP API over the dispatcher's fleet plus a WebSocket stream
// of AoeResults.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans live AoeResults out to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan domain.AoeResult

	logger *slog.Logger
	mu     sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan domain.AoeResult, 256),
		logger:     logger,
	}
}

// Run is the hub's event loop; call it in a goroutine. It exits when ctx
// is canceled, closing every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", c.id, "total_clients", h.ClientCount())
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", c.id, "total_clients", h.ClientCount())
		case res := <-h.broadcast:
			h.broadcastResult(res)
		}
	}
}

// Publish enqueues one result for broadcast. A full hub buffer drops the
// result rather than back-pressuring the engine: the live stream is a
// monitoring convenience, not the system of record.
func (h *Hub) Publish(res domain.AoeResult) {
	select {
	case h.broadcast <- res:
	default:
		h.logger.Warn("hub buffer full, dropping result", "aoe_id", res.AoeID)
	}
}

func (h *Hub) broadcastResult(res domain.AoeResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("marshal result", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("client buffer full, dropping message", "client_id", c.id)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket subscription on the
// result stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound frames; its job is to notice the peer going
// away and unregister.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
