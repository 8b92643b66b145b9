package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adarena/backend/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Spectator feeds are public and read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans event payloads out to a set of WebSocket clients. One hub per
// feed: game_events for scoreboard watchers, live_events for the attack
// ticker.
type Hub struct {
	name       string
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	// onConnect produces the payloads a fresh client receives before any
	// broadcast, e.g. the current scoreboard.
	onConnect func(ctx context.Context) ([][]byte, error)

	count   atomic.Int64
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHub(name string, onConnect func(ctx context.Context) ([][]byte, error),
	m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		onConnect:  onConnect,
		metrics:    m,
		log:        log,
	}
}

// Run owns the client set; all mutation happens on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.metrics.WSConnections.WithLabelValues(h.name).Set(float64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(int64(len(h.clients)))
			h.metrics.WSConnections.WithLabelValues(h.name).Set(float64(len(h.clients)))
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the feed.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Broadcast queues msg for every connected client. Drops the message when
// the hub itself is saturated.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("hub broadcast buffer full, dropping", "hub", h.name)
	}
}

// Count is the number of connected clients, for health endpoints.
func (h *Hub) Count() int { return int(h.count.Load()) }

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "hub", h.name, "err", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 64)}

	if h.onConnect != nil {
		initial, err := h.onConnect(r.Context())
		if err != nil {
			h.log.Warn("initial payload failed", "hub", h.name, "err", err)
		}
		for _, msg := range initial {
			c.send <- msg
		}
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards client messages; it exists to service pongs and to
// notice the close.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
