// Package hub tracks live websocket connections and pushes cache version
// changes to them.
package hub

import (
	"encoding/json"
	"sync"

	"chat-sync/internal/notify"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	UserID string
	Writer Writer
}

// VersionMessage is the frame pushed to clients when the cache version
// changes.
type VersionMessage struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

const TypeVersion = "version"

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.UserID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.UserID)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.connections {
		n += len(set)
	}
	return n
}

// BroadcastAll writes message to every connection. The cache version is
// global, so version pushes go to everyone.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0)
	for _, set := range h.connections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(conns, message)
}

func (h *Hub) deliver(conns []*Connection, message []byte) {
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

func EncodeVersion(version int64) []byte {
	out, _ := json.Marshal(VersionMessage{Type: TypeVersion, Version: version})
	return out
}

func (h *Hub) PushVersion(version int64) {
	h.BroadcastAll(EncodeVersion(version))
}

// Attach subscribes the hub to bus so every published version reaches every
// connection on this instance.
func (h *Hub) Attach(bus notify.Bus) (func(), error) {
	return bus.Subscribe(h.PushVersion)
}
