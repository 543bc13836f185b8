// Package broadcast fans control-center events out to connected
// websocket clients and hosts the leaf-node uplink.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lightshowd/lightshowd/events"
)

// Message is the wire frame exchanged with every websocket peer.
type Message struct {
	Event events.IOEvent `json:"event"`
	Args  []any          `json:"args,omitempty"`
}

// Hub tracks connected clients and broadcasts events to all of them.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}

	// OnConnect, OnMessage and OnDisconnect are invoked from the
	// client's read goroutine. Set them before serving.
	OnConnect    func(c *Client)
	OnMessage    func(c *Client, msg Message)
	OnDisconnect func(c *Client)
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS upgrades an HTTP request and runs the client until it
// disconnects. The client's role comes from the id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "err", err)
		return
	}
	c := newClient(h, conn, events.ParseRole(r.URL.Query().Get("id")), r.RemoteAddr)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Client connected", "id", c.ID(), "role", c.Role(), "addr", c.Addr())
	if h.OnConnect != nil {
		h.OnConnect(c)
	}

	go c.writePump()
	go c.readPump()
}

// Emit broadcasts an event frame to every connected client. Slow
// clients that cannot keep up are dropped rather than blocking the
// show.
func (h *Hub) Emit(event events.IOEvent, args ...any) {
	raw, err := json.Marshal(Message{Event: event, Args: args})
	if err != nil {
		h.logger.Error("Could not encode broadcast frame", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.send(raw)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.logger.Debug("Client disconnected", "id", c.ID(), "role", c.Role())
	if h.OnDisconnect != nil {
		h.OnDisconnect(c)
	}
}
