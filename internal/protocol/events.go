package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"bridgetalk/pkg/domain"
)

// EventType names a socket event.
type EventType string

// Client -> server events.
const (
	EventRoomJoin       EventType = "room:join"
	EventMessageSend    EventType = "message:send"
	EventGuestSetName   EventType = "guest:setName"
	EventMessageRead    EventType = "message:read"
	EventLanguageChange EventType = "language:change"
	EventTypingStart    EventType = "typing:start"
	EventTypingStop     EventType = "typing:stop"
)

// Server -> client events.
const (
	EventRoomJoined      EventType = "room:joined"
	EventMessageNew      EventType = "message:new"
	EventMessageError    EventType = "message:error"
	EventMessageReadAck  EventType = "message:read-ack"
	EventUserOnline      EventType = "user:online"
	EventUserOffline     EventType = "user:offline"
	EventGuestOnline     EventType = "guest:online"
	EventRoomGuestCount  EventType = "room:guest-count"
	EventLanguageChanged EventType = "language:changed"
	EventTypingIndicator EventType = "typing:indicator"
	EventHostTyping      EventType = "host:typing"
	EventGuestTyping     EventType = "guest:typing"
)

// Envelope wraps every socket message with its event name.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is the closed set of client-to-server events. Payloads are
// decoded and validated at the boundary; anything outside the union is
// rejected before dispatch.
type Inbound interface {
	isInbound()
}

// RoomJoin asks to join a room by slug. Clients may also send a role
// claim; it is advisory only and deliberately not decoded.
type RoomJoin struct {
	Slug string `json:"slug"`
}

// MessageSend submits a message into the pipeline.
type MessageSend struct {
	Text        string             `json:"text"`
	SourceLang  string             `json:"sourceLang,omitempty"`
	MessageType domain.MessageType `json:"messageType,omitempty"`
	MediaURL    string             `json:"mediaUrl,omitempty"`
}

// GuestSetName updates the room's guest display name.
type GuestSetName struct {
	Name string `json:"name"`
}

// MessageRead marks messages as read by the caller.
type MessageRead struct {
	MessageIDs []int64 `json:"messageIds"`
}

// LanguageChange updates the caller's language on the room.
type LanguageChange struct {
	Lang string `json:"lang"`
}

// TypingStart signals the caller began typing.
type TypingStart struct {
	RoomSlug string `json:"roomSlug,omitempty"`
}

// TypingStop signals the caller stopped typing.
type TypingStop struct {
	RoomSlug string `json:"roomSlug,omitempty"`
}

func (RoomJoin) isInbound()       {}
func (MessageSend) isInbound()    {}
func (GuestSetName) isInbound()   {}
func (MessageRead) isInbound()    {}
func (LanguageChange) isInbound() {}
func (TypingStart) isInbound()    {}
func (TypingStop) isInbound()     {}

// DecodeInbound parses a raw socket frame into a typed inbound event.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	switch env.Event {
	case EventRoomJoin:
		return decodePayload[RoomJoin](env.Event, data)
	case EventMessageSend:
		return decodePayload[MessageSend](env.Event, data)
	case EventGuestSetName:
		return decodePayload[GuestSetName](env.Event, data)
	case EventMessageRead:
		return decodePayload[MessageRead](env.Event, data)
	case EventLanguageChange:
		return decodePayload[LanguageChange](env.Event, data)
	case EventTypingStart:
		return decodePayload[TypingStart](env.Event, data)
	case EventTypingStop:
		return decodePayload[TypingStop](env.Event, data)
	default:
		return nil, fmt.Errorf("unknown event %q", string(env.Event))
	}
}

func decodePayload[T Inbound](event EventType, data json.RawMessage) (Inbound, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", event, err)
	}
	return payload, nil
}

// Encode marshals an outbound event into a wire frame.
func Encode(event EventType, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Outbound payloads.

// RoomJoined confirms a join and carries the room's current languages.
type RoomJoined struct {
	RoomID    int64  `json:"roomId"`
	HostLang  string `json:"hostLang"`
	GuestLang string `json:"guestLang"`
}

// ErrorEvent is a scoped error delivered to one connection.
type ErrorEvent struct {
	Error string `json:"error"`
}

// ReadAck notifies the other party which messages were read and when.
type ReadAck struct {
	MessageIDs []int64   `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

// Presence tags an online/offline notification with the role involved.
type Presence struct {
	Role domain.Role `json:"role"`
}

// GuestOnline is the legacy guest presence event.
type GuestOnline struct {
	IsOnline bool `json:"isOnline"`
}

// GuestCount reports the number of live guest connections in the room.
type GuestCount struct {
	Count int `json:"count"`
}

// LanguageChanged broadcasts a room language update.
type LanguageChanged struct {
	Lang string      `json:"lang"`
	Role domain.Role `json:"role"`
}

// TypingIndicator relays a typing state tagged with the sender role.
type TypingIndicator struct {
	Sender   domain.Role `json:"sender"`
	IsTyping bool        `json:"isTyping"`
}

// TypingState is the role-specific typing event payload.
type TypingState struct {
	IsTyping bool `json:"isTyping"`
}
