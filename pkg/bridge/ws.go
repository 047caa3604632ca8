package bridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP requests to WebSockets. Any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the event envelope sent over WebSocket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// client wraps a websocket connection with a per-connection write mutex.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// hub fans messages out to every connected client.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// join registers conn and sends it the message built by first before any
// broadcast can reach it.
func (h *hub) join(conn *websocket.Conn, first func() Message) (*client, error) {
	c := &client{conn: conn}
	c.mu.Lock()
	defer c.mu.Unlock()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	return c, c.conn.WriteJSON(first())
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// broadcast marshals once and writes to every client. Write failures are
// ignored; the client's read loop removes it.
func (h *hub) broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}
