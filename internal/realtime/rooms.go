package realtime

import "sync"

type room struct {
	mu      sync.RWMutex
	members map[*Conn]struct{} // live connections in this room
	dead    bool               // unlinked from Rooms, joiners must retry
}

// Rooms holds the room membership relation; each room has its own lock
type Rooms struct {
	mu    sync.RWMutex
	rooms map[RoomKey]*room
}

// NewRooms creates an empty membership relation
func NewRooms() *Rooms { return &Rooms{rooms: map[RoomKey]*room{}} }

// get returns the room for key, creating it when asked to
func (r *Rooms) get(key RoomKey, create bool) *room {
	r.mu.RLock()
	rm := r.rooms[key]
	r.mu.RUnlock()
	if rm != nil || !create {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rm = r.rooms[key]
	if rm == nil {
		rm = &room{members: map[*Conn]struct{}{}}
		r.rooms[key] = rm
	}
	return rm
}

// Join adds c to the room; joining twice is a no-op
// Fails with ErrConnClosed once c has been removed
func (r *Rooms) Join(c *Conn, key RoomKey) error {
	for {
		rm := r.get(key, true)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			empty := len(rm.members) == 0
			rm.mu.Unlock()
			if empty {
				r.reap(key, rm)
			}
			return ErrConnClosed
		}
		rm.members[c] = struct{}{}
		c.rooms[key] = struct{}{}
		c.mu.Unlock()
		rm.mu.Unlock()
		return nil
	}
}

// Leave removes c from the room; no-op if it was not a member
func (r *Rooms) Leave(c *Conn, key RoomKey) {
	rm := r.get(key, false)
	if rm == nil {
		c.mu.Lock()
		delete(c.rooms, key)
		c.mu.Unlock()
		return
	}

	rm.mu.Lock()
	delete(rm.members, c)
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		r.reap(key, rm)
	}
}

// MembersOf returns a snapshot of the room's members
func (r *Rooms) MembersOf(key RoomKey) []*Conn {
	rm := r.get(key, false)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Conn, 0, len(rm.members))
	for c := range rm.members {
		out = append(out, c)
	}
	return out
}

// Len reports how many non-empty rooms exist
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// reap unlinks an empty room so the map does not grow with dead conversations
func (r *Rooms) reap(key RoomKey, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) == 0 && !rm.dead && r.rooms[key] == rm {
		rm.dead = true
		delete(r.rooms, key)
	}
}
