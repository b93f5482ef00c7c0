// Package notify pushes sale notices to sellers over WebSocket. Delivery is
// best effort: a seller with no live connection, or one whose send buffer is
// full, simply misses the notice.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"market_go/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	readTimeout   = 60 * time.Second
	sendQueueSize = 16
)

// Hub fans sale notices out to the sellers' live connections. It implements
// domain.Notifier.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	closed  bool
}

type client struct {
	actor uuid.UUID
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket subscription. The subscriber
// identifies itself with an `actor` query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := uuid.Parse(r.URL.Query().Get("actor"))
	if err != nil {
		http.Error(w, "missing or malformed actor id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{actor: actor, conn: conn, send: make(chan []byte, sendQueueSize)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Info("notify subscriber connected", slog.String("actor", actor.String()))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// NotifySale delivers the notice to every live connection of the seller.
func (h *Hub) NotifySale(notice domain.SaleNotice) {
	h.mu.RLock()
	conns := h.clients[notice.Seller]
	if len(conns) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(notice)
	if err != nil {
		h.log.Error("failed to encode sale notice", slog.Any("error", err))
		return
	}
	for _, c := range targets {
		select {
		case c.send <- payload:
		default: // DROP
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.clients[c.actor]
	if set == nil {
		set = make(map[*client]struct{})
		h.clients[c.actor] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.actor]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.actor)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames so pongs and close frames are processed; the
// hub never expects application messages from subscribers.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close drops every connection and rejects new subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[uuid.UUID]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.conn.Close()
	})
}
