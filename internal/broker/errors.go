package broker

import "errors"

// Handshake and dispatch failures surfaced to callers. Handshake errors
// close the connection; dispatch errors stay scoped to one message:error
// event on the offending connection.
var (
	ErrAuthRejected  = errors.New("authentication rejected")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomArchived  = errors.New("room is archived")
	ErrNotRoomOwner  = errors.New("room belongs to another host")
	ErrNotJoined     = errors.New("join a room first")
	ErrEmptyMessage  = errors.New("message text is required")
	ErrMessageTooBig = errors.New("message text exceeds 2000 characters")
	ErrRateLimited   = errors.New("too many messages, slow down")
)
