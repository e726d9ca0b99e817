package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firstgrade/hms/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Message types on the wire.
const (
	TypeHello      = "hello"
	TypeEvent      = "event"
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Message is the envelope for everything sent over the socket in either
// direction. Clients send {"type":"subscribe","filter":{...}}.
type Message struct {
	Type   string        `json:"type"`
	Scope  string        `json:"scope,omitempty"`
	Filter *Filter       `json:"filter,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// scope pins non-operator clients to their own tenant; empty means all.
	scope string

	mu     sync.RWMutex
	filter Filter
}

func newClient(h *Hub, conn *websocket.Conn, scope string) *client {
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), scope: scope}
}

// wants reports whether the event may and should be delivered.
func (c *client) wants(ev *events.Event) bool {
	if c.scope != "" && c.scope != ev.TenantID {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Matches(ev)
}

func (c *client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// reply queues a control message without blocking the read loop.
func (c *client) reply(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// readLoop handles filter updates until the connection fails.
func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var m Message
		if err := json.Unmarshal(raw, &m); err != nil || m.Type != TypeSubscribe {
			c.reply(Message{Type: TypeError, Error: "expected {\"type\":\"subscribe\",\"filter\":{...}}"})
			continue
		}
		f := Filter{}
		if m.Filter != nil {
			f = *m.Filter
		}
		c.setFilter(f)
		c.reply(Message{Type: TypeSubscribed, Scope: c.scope, Filter: &f})
	}
}

// writeLoop drains send and keeps the connection alive with pings. It exits
// when send is closed by the hub or a write fails.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
