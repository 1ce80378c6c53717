package ws

import "sync"

// registry finds live clients by connection id so one player's request can
// route messages to another player's socket.
type registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newRegistry() *registry {
	return &registry{clients: make(map[string]*Client)}
}

func (r *registry) add(c *Client) {
	r.mu.Lock()
	r.clients[c.ClientID()] = c
	r.mu.Unlock()
}

func (r *registry) remove(c *Client) {
	r.mu.Lock()
	if r.clients[c.ClientID()] == c {
		delete(r.clients, c.ClientID())
	}
	r.mu.Unlock()
}

func (r *registry) get(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
