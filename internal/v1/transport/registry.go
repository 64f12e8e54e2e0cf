package transport

import (
	"encoding/json"
	"sync"

	"github.com/dicehall/dicehall/internal/v1/protocol"
)

// Registry indexes live connections by tag. Each actor owns one registry;
// multicast to a role, a user, or a whole room is a single map lookup.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	byTag map[string]map[*Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Conn]struct{}),
		byTag: make(map[string]map[*Conn]struct{}),
	}
}

// Add indexes a connection under all of its tags.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
	for _, tag := range c.Tags() {
		r.indexTag(c, tag)
	}
}

// Remove drops a connection from every index.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	for _, tag := range c.Tags() {
		r.unindexTag(c, tag)
	}
}

// Retag atomically swaps tags on a connection. Used for the warm-seat role
// transition (spectator:<code> becomes player:<code>).
func (r *Registry) Retag(c *Conn, remove, add []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.mu.Lock()
	for _, tag := range remove {
		delete(c.tags, tag)
	}
	for _, tag := range add {
		c.tags[tag] = struct{}{}
	}
	c.mu.Unlock()

	if _, tracked := r.conns[c]; !tracked {
		return
	}
	for _, tag := range remove {
		r.unindexTag(c, tag)
	}
	for _, tag := range add {
		r.indexTag(c, tag)
	}
}

// ByTag returns the connections carrying the tag.
func (r *Registry) ByTag(tag string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byTag[tag]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// CountByTag returns the number of connections carrying the tag.
func (r *Registry) CountByTag(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTag[tag])
}

// All returns every tracked connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the total connection count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends an event to every connection carrying the tag. The event
// is marshalled once.
func (r *Registry) Broadcast(tag string, ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range r.ByTag(tag) {
		c.sendRaw(data)
	}
}

// BroadcastAll sends an event to every tracked connection.
func (r *Registry) BroadcastAll(ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range r.All() {
		c.sendRaw(data)
	}
}

func (r *Registry) indexTag(c *Conn, tag string) {
	set, ok := r.byTag[tag]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byTag[tag] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) unindexTag(c *Conn, tag string) {
	set, ok := r.byTag[tag]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byTag, tag)
	}
}
