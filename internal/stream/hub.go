// Package stream fans live samples out to websocket viewers.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ecg-monitor/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 200 * time.Millisecond

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	device string
}

// Hub is a session sink. Write never blocks the sampling tick: each viewer
// has a bounded queue and records are dropped for viewers that fall behind.
type Hub struct {
	upgrader websocket.Upgrader
	queueLen int
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	dropped atomic.Uint64
}

func NewHub(queueLen int, logger *zap.Logger) *Hub {
	if queueLen < 1 {
		queueLen = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueLen: queueLen,
		log:      logger,
		clients:  make(map[*client]struct{}),
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Write queues rec for every viewer watching its device, or all devices.
func (h *Hub) Write(rec models.StreamRecord) error {
	clients := h.snapshot()
	if len(clients) == 0 {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.device != "" && c.device != rec.DeviceID {
			continue
		}
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts records discarded for slow viewers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request. The optional "device" query parameter
// restricts the feed to one device.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.queueLen), device: r.URL.Query().Get("device")}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("Viewer connected", zap.String("remote", r.RemoteAddr), zap.String("device", c.device))

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// reads only detect the peer going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	close(done)
	h.log.Info("Viewer disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	defer c.conn.Close()
	for {
		select {
		case <-done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		h.remove(c)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	}
}
