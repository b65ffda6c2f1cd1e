package master

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/qduel/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client is one authenticated websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	SocketID string
	UserID   string
	Username string
}

func NewClient(hub *Hub, conn *websocket.Conn, socketID, userID, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		SocketID: socketID,
		UserID:   userID,
		Username: username,
	}
}

// ReadPump reads frames until the connection drops, forwarding decoded
// commands to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("master: websocket read failed", "socket", c.SocketID, "error", err)
			}
			return
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("master: malformed frame", "socket", c.SocketID, "error", err)
			c.SendEvent(protocol.ErrorEvent(err))
			continue
		}

		c.hub.messages <- inbound{client: c, msg: msg}
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// SendEvent queues an event for delivery. Deliveries racing a disconnect are
// dropped; the client resyncs from durable state on reconnect. A client that
// cannot drain its buffer is dropped rather than allowed to stall the sender.
func (c *Client) SendEvent(e protocol.ServerEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("master: marshal event failed", "event", string(e.Event), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		slog.Warn("master: send buffer full, dropping client", "socket", c.SocketID)
		c.conn.Close()
	}
}

// close releases WritePump and marks the client dead. The flag is checked
// under the same lock SendEvent queues under, so a late delivery from a
// worker goroutine or a timer callback can never hit the closed channel.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
