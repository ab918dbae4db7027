package store

import (
	"sort"
	"sync"
	"time"

	"bridgetalk/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	hosts    map[int64]domain.Host
	email    map[string]int64 // email -> host ID
	rooms    map[int64]domain.Room
	slugs    map[string]int64 // slug -> room ID
	messages map[int64]domain.Message

	nextHostID    int64
	nextRoomID    int64
	nextMessageID int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts:    make(map[int64]domain.Host),
		email:    make(map[string]int64),
		rooms:    make(map[int64]domain.Room),
		slugs:    make(map[string]int64),
		messages: make(map[int64]domain.Message),
	}
}

// SaveHost stores or replaces a host record, assigning an ID when absent.
func (m *MemoryStore) SaveHost(h domain.Host) (domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == 0 {
		m.nextHostID++
		h.ID = m.nextHostID
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.hosts[h.ID] = h
	m.email[h.Email] = h.ID
	return h, nil
}

// GetHostByEmail looks up a host by email.
func (m *MemoryStore) GetHostByEmail(email string) (domain.Host, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.Host{}, false, nil
	}
	h, ok := m.hosts[id]
	return h, ok, nil
}

// GetHostByID returns a host by ID.
func (m *MemoryStore) GetHostByID(id int64) (domain.Host, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[id]
	return h, ok, nil
}

// CreateRoom inserts a room with a fresh ID and timestamps.
func (m *MemoryStore) CreateRoom(r domain.Room) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoomID++
	r.ID = m.nextRoomID
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	m.rooms[r.ID] = r
	m.slugs[r.Slug] = r.ID
	return r, nil
}

// GetRoomBySlug looks up a room by slug.
func (m *MemoryStore) GetRoomBySlug(slug string) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return domain.Room{}, false, nil
	}
	r, ok := m.rooms[id]
	return r, ok, nil
}

// GetRoomByID returns a room by ID.
func (m *MemoryStore) GetRoomByID(id int64) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok, nil
}

// UpdateRoom applies a partial update.
func (m *MemoryStore) UpdateRoom(id int64, upd RoomUpdate) (domain.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, false, nil
	}
	changed := upd.Touch
	if upd.Label != nil {
		r.Label = *upd.Label
		changed = true
	}
	if upd.Status != nil {
		r.Status = *upd.Status
		changed = true
	}
	if upd.GuestName != nil {
		r.GuestName = upd.GuestName
		changed = true
	}
	if upd.GuestLang != nil {
		r.GuestLang = *upd.GuestLang
		changed = true
	}
	if upd.HostLang != nil {
		r.HostLang = *upd.HostLang
		changed = true
	}
	if changed {
		r.UpdatedAt = time.Now().UTC()
	}
	m.rooms[id] = r
	return r, true, nil
}

// ListRoomsByHost returns a host's rooms, most recently updated first.
func (m *MemoryStore) ListRoomsByHost(hostID int64) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Room, 0)
	for _, r := range m.rooms {
		if r.HostID == hostID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// DeleteRoom removes a room and its messages.
func (m *MemoryStore) DeleteRoom(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		delete(m.slugs, r.Slug)
	}
	delete(m.rooms, id)
	for mid, msg := range m.messages {
		if msg.RoomID == id {
			delete(m.messages, mid)
		}
	}
	return nil
}

// InsertMessage persists a message with a fresh ID and server timestamp.
func (m *MemoryStore) InsertMessage(msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	msg.ID = m.nextMessageID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

// GetMessage returns a message by ID.
func (m *MemoryStore) GetMessage(id int64) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

// MarkMessageRead sets the read timestamp once.
func (m *MemoryStore) MarkMessageRead(id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.ReadAt != nil {
		return false, nil
	}
	t := at.UTC()
	msg.ReadAt = &t
	m.messages[id] = msg
	return true, nil
}

// ListMessages returns up to limit messages newest-first.
func (m *MemoryStore) ListMessages(roomID int64, beforeID int64, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			continue
		}
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastMessage returns the newest message in a room.
func (m *MemoryStore) LastMessage(roomID int64) (domain.Message, bool, error) {
	msgs, err := m.ListMessages(roomID, 0, 1)
	if err != nil || len(msgs) == 0 {
		return domain.Message{}, false, err
	}
	return msgs[0], true, nil
}
