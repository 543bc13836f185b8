package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lightshowd/lightshowd/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one websocket peer attached to the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	role events.Role
	addr string

	mu     sync.Mutex
	closed bool
	out    chan []byte
}

func newClient(h *Hub, conn *websocket.Conn, role events.Role, addr string) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		id:   uuid.NewString(),
		role: role,
		addr: addr,
		out:  make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string        { return c.id }
func (c *Client) Role() events.Role { return c.role }
func (c *Client) Addr() string      { return c.addr }

// Emit sends an event frame to this client only.
func (c *Client) Emit(event events.IOEvent, args ...any) {
	raw, err := json.Marshal(Message{Event: event, Args: args})
	if err != nil {
		c.hub.logger.Error("Could not encode frame", "event", event, "err", err)
		return
	}
	c.send(raw)
}

// send queues a frame without blocking. A client whose buffer is full
// is closed; lighting clients resynchronize on the next mapping push.
func (c *Client) send(raw []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.out <- raw:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.close()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()
	c.hub.remove(c)
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Debug("Dropping malformed frame", "id", c.id, "err", err)
			continue
		}
		if c.hub.OnMessage != nil {
			c.hub.OnMessage(c, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
