package notify

import (
	"net/http"
	"sync"

	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID uint

	mu     sync.Mutex
	closed bool
}

// trySend queues a payload without blocking. It reports false when the
// buffer is full or the client already closed.
func (c *client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Hub fans event payloads out to every open socket a user holds.
// Slow consumers are dropped rather than allowed to block a push.
type Hub struct {
	mu          sync.RWMutex
	connections map[uint][]*client
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uint][]*client),
		logger:      logger,
	}
}

// ServeWS upgrades an authenticated request to a websocket and keeps
// it registered until the peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16), userID: userID}
	h.add(c)

	go c.writePump()
	go h.readPump(c)
}

// Push delivers a payload to all of a user's open sockets. Slow or
// already-closed clients are dropped.
func (h *Hub) Push(userID uint, payload []byte) {
	h.mu.RLock()
	clients := h.connections[userID]
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(payload) {
			h.remove(c)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.connections[c.userID] = append(h.connections[c.userID], c)
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	clients := h.connections[c.userID]
	for i, existing := range clients {
		if existing == c {
			h.connections[c.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.connections[c.userID]) == 0 {
		delete(h.connections, c.userID)
	}
	h.mu.Unlock()
	c.close()
}

// readPump discards inbound frames; the stream is push-only. Its job
// is noticing the peer closing.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
