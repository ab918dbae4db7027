package store

import (
	"time"

	"bridgetalk/pkg/domain"
)

// RoomUpdate carries a partial room update; nil fields are left untouched.
// Touch bumps the room's UpdatedAt even when no other field changes.
type RoomUpdate struct {
	Label     *string
	Status    *domain.RoomStatus
	GuestName *string
	GuestLang *string
	HostLang  *string
	Touch     bool
}

// Store defines persistence operations for hosts, rooms, and messages.
// Implementations enforce slug uniqueness and referential integrity;
// callers only re-check existence where the protocol requires it.
type Store interface {
	// hosts
	SaveHost(h domain.Host) (domain.Host, error)
	GetHostByEmail(email string) (domain.Host, bool, error)
	GetHostByID(id int64) (domain.Host, bool, error)

	// rooms
	CreateRoom(r domain.Room) (domain.Room, error)
	GetRoomBySlug(slug string) (domain.Room, bool, error)
	GetRoomByID(id int64) (domain.Room, bool, error)
	UpdateRoom(id int64, upd RoomUpdate) (domain.Room, bool, error)
	ListRoomsByHost(hostID int64) ([]domain.Room, error)
	DeleteRoom(id int64) error

	// messages
	InsertMessage(m domain.Message) (domain.Message, error)
	GetMessage(id int64) (domain.Message, bool, error)
	// MarkMessageRead sets the read timestamp once; it reports false when
	// the message was already read or does not exist.
	MarkMessageRead(id int64, at time.Time) (bool, error)
	// ListMessages returns up to limit messages newest-first, optionally
	// older than beforeID (0 means no cursor).
	ListMessages(roomID int64, beforeID int64, limit int) ([]domain.Message, error)
	LastMessage(roomID int64) (domain.Message, bool, error)
}
