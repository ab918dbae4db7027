package session

import (
	"sync"

	"bridgetalk/pkg/domain"
)

// Membership records which room and role a connection belongs to.
type Membership struct {
	RoomSlug string
	Role     domain.Role
}

// Registry is the authoritative in-memory map of live connections to
// rooms and roles, and the source of truth for presence. A room holds at
// most one host connection (last writer wins on reconnect) and a set of
// guest connections (multiple tabs of the same logical guest).
//
// All state is guarded by one mutex: joins and disconnects race across
// connections.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Membership          // connection id -> membership
	hosts  map[string]string              // room slug -> host connection id
	guests map[string]map[string]struct{} // room slug -> guest connection ids
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Membership),
		hosts:  make(map[string]string),
		guests: make(map[string]map[string]struct{}),
	}
}

// Join records the connection under the room. Re-joining is idempotent;
// joining a different room first detaches the connection from its old one.
func (r *Registry) Join(connID, roomSlug string, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok && (prev.RoomSlug != roomSlug || prev.Role != role) {
		r.detach(connID, prev)
	}
	r.conns[connID] = Membership{RoomSlug: roomSlug, Role: role}

	if role == domain.RoleHost {
		r.hosts[roomSlug] = connID
		return
	}
	set, ok := r.guests[roomSlug]
	if !ok {
		set = make(map[string]struct{})
		r.guests[roomSlug] = set
	}
	set[connID] = struct{}{}
}

// Leave removes the connection from all tracking structures and returns
// the membership it held, if any.
func (r *Registry) Leave(connID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return Membership{}, false
	}
	delete(r.conns, connID)
	r.detach(connID, m)
	return m, true
}

// detach clears per-room structures; caller holds the mutex.
func (r *Registry) detach(connID string, m Membership) {
	if m.Role == domain.RoleHost {
		// A reconnected host may already occupy the slot.
		if r.hosts[m.RoomSlug] == connID {
			delete(r.hosts, m.RoomSlug)
		}
		return
	}
	if set, ok := r.guests[m.RoomSlug]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.guests, m.RoomSlug)
		}
	}
}

// GuestCount returns the number of live guest connections in the room.
func (r *Registry) GuestCount(roomSlug string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guests[roomSlug])
}

// IsGuestOnline reports whether the room has any guest connection.
func (r *Registry) IsGuestOnline(roomSlug string) bool {
	return r.GuestCount(roomSlug) > 0
}

// MembersOf returns the connection ids of everyone in the room, host
// first when present.
func (r *Registry) MembersOf(roomSlug string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.guests[roomSlug])+1)
	if hostID, ok := r.hosts[roomSlug]; ok {
		out = append(out, hostID)
	}
	for id := range r.guests[roomSlug] {
		out = append(out, id)
	}
	return out
}
