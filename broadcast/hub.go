package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Global debug function for broadcast package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

const (
	// clientQueueSize bounds the per-client send queue. A client that cannot
	// keep up gets disconnected instead of stalling the frame path.
	clientQueueSize = 16
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
)

// CountUpdate is the message pushed to every data client whenever the
// counters change
type CountUpdate struct {
	InCount  uint64 `json:"in_count"`
	OutCount uint64 `json:"out_count"`
}

type client struct {
	conn  *websocket.Conn
	queue chan []byte
}

// Hub fans count updates out to WebSocket clients. Sends never block the
// caller: a full client queue drops the client.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	closed   bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from whatever origin serves the UI.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and registers the connection for count
// updates. It returns once the client is registered; the writer goroutine
// owns the connection from then on.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugMsg("WS_DATA", fmt.Sprintf("Upgrade failed: %v", err))
		return
	}

	c := &client{conn: conn, queue: make(chan []byte, clientQueueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	debugMsg("WS_DATA", fmt.Sprintf("Client connected (%d active)", count))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// BroadcastCounts pushes the current totals to every connected client.
// Non-blocking: slow clients are dropped, not waited on.
func (h *Hub) BroadcastCounts(in, out uint64) {
	payload, err := json.Marshal(CountUpdate{InCount: in, OutCount: out})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.queue <- payload:
		default:
			delete(h.clients, c)
			close(c.queue)
			debugMsg("WS_DATA", "Dropping slow client (send queue full)")
		}
	}
}

// ClientCount returns the number of connected data clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.queue)
	}
}

// writeLoop drains the client queue onto the wire and pings to detect dead
// peers. It exits when the queue is closed or a write fails.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.queue:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards inbound messages; clients only listen. It exists so
// close frames and read errors are noticed promptly.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// remove unregisters a client if it is still registered. Safe to call from
// both loops; only the first call closes the queue.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.queue)
		debugMsg("WS_DATA", fmt.Sprintf("Client disconnected (%d active)", len(h.clients)))
	}
}
