package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsClient is one connected /ws consumer. The write mutex serializes
// frames; gorilla connections allow only one concurrent writer.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	joined time.Time

	mu       sync.Mutex
	lastPong time.Time
}

func (c *wsClient) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// touch records a pong from the client.
func (c *wsClient) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// clientRegistry tracks connected event stream clients.
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*wsClient)}
}

func (r *clientRegistry) add(conn *websocket.Conn) *wsClient {
	now := time.Now()
	c := &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		joined:   now,
		lastPong: now,
	}

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
	return c
}

// drop closes and forgets a client. Unknown ids are a no-op, so the
// read pump and a failed broadcast can both call it.
func (r *clientRegistry) drop(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if ok {
		_ = c.conn.Close()
	}
}

func (r *clientRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// broadcast fans a message out to every client and evicts the ones
// whose connection no longer accepts writes.
func (r *clientRegistry) broadcast(msg []byte) {
	r.mu.RLock()
	targets := make([]*wsClient, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var dead []string
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			dead = append(dead, c.id)
		}
	}
	for _, id := range dead {
		r.drop(id)
	}
}

// closeAll disconnects every client. Called on server shutdown.
func (r *clientRegistry) closeAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*wsClient)
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
