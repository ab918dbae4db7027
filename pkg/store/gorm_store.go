package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bridgetalk/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&HostModel{}, &RoomModel{}, &MessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveHost inserts or updates a host record.
func (s *GormStore) SaveHost(h domain.Host) (domain.Host, error) {
	m := hostModel(h)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Save(&m).Error; err != nil {
		return domain.Host{}, fmt.Errorf("save host: %w", err)
	}
	return m.toDomain(), nil
}

// GetHostByEmail looks up a host by email.
func (s *GormStore) GetHostByEmail(email string) (domain.Host, bool, error) {
	var m HostModel
	err := s.db.Where("email = ?", email).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Host{}, false, nil
	}
	if err != nil {
		return domain.Host{}, false, fmt.Errorf("get host by email: %w", err)
	}
	return m.toDomain(), true, nil
}

// GetHostByID looks up a host by ID.
func (s *GormStore) GetHostByID(id int64) (domain.Host, bool, error) {
	var m HostModel
	err := s.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Host{}, false, nil
	}
	if err != nil {
		return domain.Host{}, false, fmt.Errorf("get host: %w", err)
	}
	return m.toDomain(), true, nil
}

// CreateRoom inserts a room and returns it with ID and timestamps set.
func (s *GormStore) CreateRoom(r domain.Room) (domain.Room, error) {
	m := roomModel(r)
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if err := s.db.Create(&m).Error; err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	return m.toDomain(), nil
}

// GetRoomBySlug looks up a room by its public slug.
func (s *GormStore) GetRoomBySlug(slug string) (domain.Room, bool, error) {
	var m RoomModel
	err := s.db.Where("slug = ?", slug).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Room{}, false, nil
	}
	if err != nil {
		return domain.Room{}, false, fmt.Errorf("get room by slug: %w", err)
	}
	return m.toDomain(), true, nil
}

// GetRoomByID looks up a room by ID.
func (s *GormStore) GetRoomByID(id int64) (domain.Room, bool, error) {
	var m RoomModel
	err := s.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Room{}, false, nil
	}
	if err != nil {
		return domain.Room{}, false, fmt.Errorf("get room: %w", err)
	}
	return m.toDomain(), true, nil
}

// UpdateRoom applies a partial update and reports whether the room exists.
func (s *GormStore) UpdateRoom(id int64, upd RoomUpdate) (domain.Room, bool, error) {
	fields := map[string]any{}
	if upd.Label != nil {
		fields["label"] = *upd.Label
	}
	if upd.Status != nil {
		fields["status"] = string(*upd.Status)
	}
	if upd.GuestName != nil {
		fields["guest_name"] = *upd.GuestName
	}
	if upd.GuestLang != nil {
		fields["guest_lang"] = *upd.GuestLang
	}
	if upd.HostLang != nil {
		fields["host_lang"] = *upd.HostLang
	}
	if len(fields) > 0 || upd.Touch {
		fields["updated_at"] = time.Now().UTC()
	}
	if len(fields) > 0 {
		if err := s.db.Model(&RoomModel{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return domain.Room{}, false, fmt.Errorf("update room: %w", err)
		}
	}
	return s.GetRoomByID(id)
}

// ListRoomsByHost returns a host's rooms, most recently updated first.
func (s *GormStore) ListRoomsByHost(hostID int64) ([]domain.Room, error) {
	var ms []RoomModel
	if err := s.db.Where("host_id = ?", hostID).Order("updated_at DESC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]domain.Room, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// DeleteRoom removes a room and its message history.
func (s *GormStore) DeleteRoom(id int64) error {
	if err := s.db.Where("room_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	if err := s.db.Delete(&RoomModel{}, id).Error; err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// InsertMessage persists a message and returns it with the generated ID
// and server timestamp.
func (s *GormStore) InsertMessage(msg domain.Message) (domain.Message, error) {
	m := messageModel(msg)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(&m).Error; err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m.toDomain(), nil
}

// GetMessage looks up a single message by ID.
func (s *GormStore) GetMessage(id int64) (domain.Message, bool, error) {
	var m MessageModel
	err := s.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("get message: %w", err)
	}
	return m.toDomain(), true, nil
}

// MarkMessageRead sets read_at once; a second call is a no-op.
func (s *GormStore) MarkMessageRead(id int64, at time.Time) (bool, error) {
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("mark message read: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMessages returns up to limit messages newest-first, optionally older
// than beforeID.
func (s *GormStore) ListMessages(roomID int64, beforeID int64, limit int) ([]domain.Message, error) {
	q := s.db.Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var ms []MessageModel
	if err := q.Order("id DESC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]domain.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// LastMessage returns the newest message in a room.
func (s *GormStore) LastMessage(roomID int64) (domain.Message, bool, error) {
	var m MessageModel
	err := s.db.Where("room_id = ?", roomID).Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("last message: %w", err)
	}
	return m.toDomain(), true, nil
}
