package realtime

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Transport delivers encoded frames to one socket without blocking
type Transport interface {
	Send(b []byte) error
}

// Conn is one live socket of an authenticated identity
type Conn struct {
	ID       string
	Identity string

	tr     Transport
	mu     sync.Mutex
	rooms  map[RoomKey]struct{}
	closed bool
}

// Rooms returns the keys this connection currently belongs to, sorted
func (c *Conn) Rooms() []RoomKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deliver hands b to the transport unless the connection was removed
func (c *Conn) deliver(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: conn %s: %w", ErrDelivery, c.ID, ErrConnClosed)
	}
	if err := c.tr.Send(b); err != nil {
		return fmt.Errorf("%w: conn %s: %w", ErrDelivery, c.ID, err)
	}
	return nil
}

// Registry tracks live connections. The identity index is the user inbox room,
// so lookups by identity take only that identity's room lock.
type Registry struct {
	rooms *Rooms
	conns sync.Map // conn id -> *Conn
	count atomic.Int64
}

// NewRegistry builds a registry on top of the room relation
func NewRegistry(rooms *Rooms) *Registry { return &Registry{rooms: rooms} }

// Admit registers a new connection and joins it to its user inbox
func (r *Registry) Admit(identity string, tr Transport) *Conn {
	c := &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		tr:       tr,
		rooms:    map[RoomKey]struct{}{},
	}
	r.conns.Store(c.ID, c)
	r.count.Add(1)
	// a fresh conn cannot be closed yet
	_ = r.rooms.Join(c, UserRoomKey(identity))
	return c
}

// Remove releases every membership of c; safe to call more than once.
// Reports whether this call did the removal.
func (r *Registry) Remove(c *Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	keys := make([]RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		r.rooms.Leave(c, k)
	}
	r.conns.Delete(c.ID)
	r.count.Add(-1)
	return true
}

// ConnectionsFor returns a snapshot of every live connection of identity
func (r *Registry) ConnectionsFor(identity string) []*Conn {
	return r.rooms.MembersOf(UserRoomKey(identity))
}

// Lookup finds a live connection by id
func (r *Registry) Lookup(id string) (*Conn, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

// Count is the number of live connections
func (r *Registry) Count() int { return int(r.count.Load()) }

// Each calls fn for every live connection
func (r *Registry) Each(fn func(*Conn)) {
	r.conns.Range(func(_, v any) bool {
		fn(v.(*Conn))
		return true
	})
}
