package socket

import (
	"net"
	"sync"
)

// Router demultiplexes inbound datagrams to the session that owns a given
// remote address. It stores session ids, never pointers or interfaces, so
// that a session's lifetime is governed entirely by whoever holds its id —
// the non-owning "arena of sessions keyed by id" pattern this engine uses
// everywhere a component would otherwise need a back-reference into its
// owner.
type Router struct {
	mu   sync.Mutex
	byID map[uint64]net.Addr
	byRemote map[string]uint64
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		byID:     make(map[uint64]net.Addr),
		byRemote: make(map[string]uint64),
	}
}

// Register associates remote with id, replacing any previous registration
// for that remote address. Used when a connectivity check nominates a pair
// and the session's active remote address changes.
func (r *Router) Register(id uint64, remote net.Addr) {
	key := remote.String()
	r.mu.Lock()
	if old, ok := r.byID[id]; ok {
		delete(r.byRemote, old.String())
	}
	r.byID[id] = remote
	r.byRemote[key] = id
	r.mu.Unlock()
}

// Lookup returns the session id registered for remote, if any.
func (r *Router) Lookup(remote net.Addr) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRemote[remote.String()]
	return id, ok
}

// Deregister removes id and its remote-address mapping.
func (r *Router) Deregister(id uint64) {
	r.mu.Lock()
	if remote, ok := r.byID[id]; ok {
		delete(r.byRemote, remote.String())
		delete(r.byID, id)
	}
	r.mu.Unlock()
}
