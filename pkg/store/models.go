package store

import (
	"time"

	"bridgetalk/pkg/domain"
)

// GORM models used for persistence.
type HostModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Name         string `gorm:"not null"`
	Language     string
	CreatedAt    time.Time `gorm:"not null"`
}

type RoomModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Slug      string `gorm:"uniqueIndex;not null"`
	HostID    int64  `gorm:"not null;index"`
	Label     string `gorm:"not null"`
	GuestName *string
	GuestLang string
	HostLang  string
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	RoomID         int64  `gorm:"not null;index"`
	Sender         string `gorm:"not null"`
	OriginalText   string `gorm:"type:text;not null"`
	TranslatedText *string `gorm:"type:text"`
	SourceLang     string  `gorm:"not null"`
	TargetLang     string  `gorm:"not null"`
	MessageType    string  `gorm:"not null"`
	MediaURL       *string
	ReadAt         *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (m HostModel) toDomain() domain.Host {
	return domain.Host{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Name:         m.Name,
		Language:     m.Language,
		CreatedAt:    m.CreatedAt,
	}
}

func hostModel(h domain.Host) HostModel {
	return HostModel{
		ID:           h.ID,
		Email:        h.Email,
		PasswordHash: h.PasswordHash,
		Name:         h.Name,
		Language:     h.Language,
		CreatedAt:    h.CreatedAt,
	}
}

func (m RoomModel) toDomain() domain.Room {
	return domain.Room{
		ID:        m.ID,
		Slug:      m.Slug,
		HostID:    m.HostID,
		Label:     m.Label,
		GuestName: m.GuestName,
		GuestLang: m.GuestLang,
		HostLang:  m.HostLang,
		Status:    domain.RoomStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func roomModel(r domain.Room) RoomModel {
	return RoomModel{
		ID:        r.ID,
		Slug:      r.Slug,
		HostID:    r.HostID,
		Label:     r.Label,
		GuestName: r.GuestName,
		GuestLang: r.GuestLang,
		HostLang:  r.HostLang,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (m MessageModel) toDomain() domain.Message {
	return domain.Message{
		ID:             m.ID,
		RoomID:         m.RoomID,
		Sender:         domain.Role(m.Sender),
		OriginalText:   m.OriginalText,
		TranslatedText: m.TranslatedText,
		SourceLang:     m.SourceLang,
		TargetLang:     m.TargetLang,
		MessageType:    domain.MessageType(m.MessageType),
		MediaURL:       m.MediaURL,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

func messageModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:             m.ID,
		RoomID:         m.RoomID,
		Sender:         string(m.Sender),
		OriginalText:   m.OriginalText,
		TranslatedText: m.TranslatedText,
		SourceLang:     m.SourceLang,
		TargetLang:     m.TargetLang,
		MessageType:    string(m.MessageType),
		MediaURL:       m.MediaURL,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}
