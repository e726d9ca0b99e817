// Package realtime pushes tenant events to connected UI shells over WebSocket
// so they can re-evaluate entitlements without polling.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/metrics"
)

// MaxClients is the default cap on concurrent WebSocket connections.
const MaxClients = 10000

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	PeakClients      int64 `json:"peakClients"`
	TotalClients     int64 `json:"totalClients"`
	TotalEvents      int64 `json:"totalEvents"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// Hub fans events out to connected clients. Run owns the client set; other
// goroutines talk to it through channels.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	origins    []string
	maxClients int

	register   chan *client
	unregister chan *client
	broadcast  chan *events.Event
	done       chan struct{} // closed when Run exits

	mu      sync.RWMutex
	clients map[*client]struct{}

	totalEvents   atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
	droppedEvents atomic.Int64
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:     logger,
		maxClients: MaxClients,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *events.Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// WithOrigins allows browser connections from the given origins in addition
// to the API's own host. "*" allows any origin.
func (h *Hub) WithOrigins(origins []string) *Hub {
	h.origins = origins
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	if slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			clear(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "clients", n, "scope", c.scope)

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev *events.Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(Message{Type: TypeEvent, Event: ev})
	if err != nil {
		h.logger.Error("failed to encode event", "subject", ev.Subject, "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// A client that cannot keep up is disconnected rather than stalling others.
	for _, c := range slow {
		h.logger.Warn("disconnecting slow websocket client", "scope", c.scope)
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.ActiveWebSocketClients.Set(float64(n))
	}
}

// Publish queues an event for delivery. It never blocks; when the queue is
// full the event is dropped and logged.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	select {
	case h.broadcast <- &ev:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("broadcast queue full, dropping event", "subject", ev.Subject, "tenant", ev.TenantID)
	}
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		PeakClients:      h.peakClients.Load(),
		TotalClients:     h.totalClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
	}
}

// HandleWebSocket upgrades the request. Callers that are not platform
// operators only receive events for their own tenant.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down", "message": "server shutting down"})
		return
	default:
	}

	id, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication required."})
		return
	}
	scope := ""
	if !id.IsPlatformOperator() {
		if id.TenantID == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "No tenant bound to caller."})
			return
		}
		scope = id.TenantID
	}

	if h.Stats().ConnectedClients >= h.maxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too_many_connections", "message": "too many connections"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := newClient(h, conn, scope)
	cl.reply(Message{Type: TypeHello, Scope: scope})

	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go cl.writeLoop()
	go cl.readLoop()
}

var _ events.Publisher = (*Hub)(nil)
