// Package hub fans lifecycle events out to connected operator feeds.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"spawnhub/internal/lifecycle"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Subscriber string
	Writer     Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connections, conn)
}

func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// Notify implements lifecycle.Notifier: events are logged and broadcast to
// every connected feed.
func (h *Hub) Notify(ev lifecycle.Event) {
	log.Printf("event: %s %s/%q -> %s %s", ev.Type, ev.Account, ev.Label, ev.State, ev.Message)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.Broadcast(data)
}
