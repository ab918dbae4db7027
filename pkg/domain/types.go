package domain

import "time"

// Role identifies which side of a room a connection speaks for.
// The server derives it from the credential that authenticated the
// connection; role fields supplied by clients are never trusted.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomArchived RoomStatus = "archived"
)

// MessageType distinguishes text messages from media messages.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
)

// Default room languages when a side has not picked one.
const (
	DefaultHostLang  = "zh-TW"
	DefaultGuestLang = "th"
)

// Host is an authenticated room owner.
type Host struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Room is a two-party chat room owned by exactly one host. The slug is
// the opaque public identifier used in shareable links; it never changes
// after creation.
type Room struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	HostID    int64      `json:"hostId"`
	Label     string     `json:"label"`
	GuestName *string    `json:"guestName"`
	GuestLang string     `json:"guestLang"`
	HostLang  string     `json:"hostLang"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Message is one chat message in a room. Source and target languages are
// captured at send time so history stays accurate when room languages
// change later. TranslatedText is nil for media messages; ReadAt is set
// once by the recipient and never cleared.
type Message struct {
	ID             int64       `json:"id"`
	RoomID         int64       `json:"roomId"`
	Sender         Role        `json:"sender"`
	OriginalText   string      `json:"originalText"`
	TranslatedText *string     `json:"translatedText"`
	SourceLang     string      `json:"sourceLang"`
	TargetLang     string      `json:"targetLang"`
	MessageType    MessageType `json:"messageType"`
	MediaURL       *string     `json:"mediaUrl"`
	ReadAt         *time.Time  `json:"readAt"`
	CreatedAt      time.Time   `json:"createdAt"`
}
