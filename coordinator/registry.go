package coordinator

import (
	"sync"

	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/types"
)

// Registry maps user ids to their most recently authenticated connection. A user may have several open
// connections, only the last one registered is reachable through the registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]broadcast.Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]broadcast.Conn)}
}

// Register records conn as the connection of the identity, replacing any previous one.
func (r *Registry) Register(identity types.Identity, conn broadcast.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[identity.Id] = conn
}

func (r *Registry) Lookup(userID string) (broadcast.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Unregister removes the entry of the user, if any.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// Release removes the entry of the user only if it still points to conn. It reports whether the entry was
// removed. A connection closing after the same user connected again must not remove the newer entry.
func (r *Registry) Release(userID string, conn broadcast.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; ok && cur == conn {
		delete(r.conns, userID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
