package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/yieldmind/core"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 16
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans cycle status snapshots out to websocket clients. It implements
// cycle.StatusSink; Publish never blocks, and a client that falls behind by
// more than its buffer is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    *core.CycleStatus
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan core.CycleStatus
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Publish broadcasts a snapshot to every connected client.
func (h *Hub) Publish(status core.CycleStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &status
	for cl := range h.clients {
		select {
		case cl.send <- status:
		default:
			log.Printf("[WS] Dropping slow client")
			h.removeLocked(cl)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.removeLocked(cl)
	}
}

// ServeWS upgrades the request and streams snapshots, starting with the latest one.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	cl := &wsClient{conn: conn, send: make(chan core.CycleStatus, clientBuffer)}
	if !h.register(cl) {
		conn.Close()
		return
	}
	log.Printf("[WS] Client connected: %s", c.Request.RemoteAddr)

	go cl.writePump()
	h.readPump(cl)
}

func (h *Hub) register(cl *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	if h.last != nil {
		cl.send <- *h.last
	}
	return true
}

// removeLocked closes the client's queue; writePump then closes the connection.
func (h *Hub) removeLocked(cl *wsClient) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(cl *wsClient) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(cl)
		h.mu.Unlock()
		log.Printf("[WS] Client disconnected")
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *wsClient) writePump() {
	defer cl.conn.Close()
	for status := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(status); err != nil {
			log.Printf("[WS] Write failed: %v", err)
			return
		}
	}
	cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
