// Package live pushes rendering updates to connected map pages over websockets.
package live

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"traffic-map/internal/platform/metrics"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// MessageSnapshot is the first message every client receives.
const MessageSnapshot = "snapshot"

// Message is the envelope of every websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients and fans messages out to them. A client whose
// send buffer is full is dropped rather than allowed to stall broadcasts.
type Hub struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	snapshot func() any
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns a hub. snapshot, if non-nil, supplies the state sent to new
// clients. An empty origins list accepts any Origin.
func NewHub(log *slog.Logger, m *metrics.Metrics, snapshot func() any, origins []string) *Hub {
	h := &Hub{
		log:      log,
		metrics:  m,
		snapshot: snapshot,
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin) || slices.Contains(origins, "*")
		},
	}
	return h
}

// Broadcast sends a typed message to every connected client.
func (h *Hub) Broadcast(kind string, data any) {
	payload, err := json.Marshal(Message{Type: kind, Data: data})
	if err != nil {
		h.log.Error("encode live message failed", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("live client too slow, dropping", slog.String("client_id", c.id))
			h.removeLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn, r.RemoteAddr)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.snapshot != nil {
		payload, err := json.Marshal(Message{Type: MessageSnapshot, Data: h.snapshot()})
		if err == nil {
			c.send <- payload
		} else {
			h.log.Error("encode snapshot failed", slog.String("error", err.Error()))
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetLiveClients(n)
	h.log.Info("live client connected",
		slog.String("client_id", c.id),
		slog.String("remote", c.remote),
		slog.Int("clients", n))
	c.start()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.removeLocked(c)
		h.log.Info("live client disconnected", slog.String("client_id", c.id), slog.Int("clients", len(h.clients)))
	}
}

func (h *Hub) removeLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetLiveClients(len(h.clients))
}
