package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"bridgetalk/internal/hosttoken"
	"bridgetalk/internal/protocol"
	"bridgetalk/internal/session"
	"bridgetalk/pkg/domain"
	"bridgetalk/pkg/store"
)

const maxMessageRunes = 2000

// Captions persisted for media messages in place of text.
const (
	imageCaption = "📷 圖片"
	audioCaption = "🎤 語音訊息"
)

// Limiter gates message sends per connection.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
}

// Translator converts text between languages. It degrades instead of
// failing: on an unrecoverable error it returns the original text.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) string
}

// Sink delivers outbound events to a single connection. Implementations
// must not block; a slow consumer drops frames rather than stalling the
// broker.
type Sink interface {
	Send(event protocol.EventType, data any)
}

// Handshake carries the credential presented when a socket connects.
// Exactly one of Token (host) or RoomSlug (guest) must be set; the
// credential decides the role, never the client.
type Handshake struct {
	Token    string
	RoomSlug string
}

// Conn is one live authenticated connection. The room membership fields
// are written only by the connection's own dispatch goroutine; events on
// a single connection are handled serially.
type Conn struct {
	ID   string
	Role domain.Role
	Host hosttoken.Claims // zero value for guests

	sink     Sink
	authSlug string // guest credential room, empty for hosts

	slug   string
	roomID int64
}

// Broker owns the realtime side of the system: the auth handshake, the
// message pipeline, presence, and fan-out to room members.
type Broker struct {
	store      store.Store
	translator Translator
	limiter    Limiter
	registry   *session.Registry
	jwtSecret  []byte
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewBroker wires the broker's collaborators together.
func NewBroker(st store.Store, tr Translator, lim Limiter, reg *session.Registry, jwtSecret []byte, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:      st,
		translator: tr,
		limiter:    lim,
		registry:   reg,
		jwtSecret:  jwtSecret,
		logger:     logger,
		conns:      make(map[string]*Conn),
	}
}

// Connect authenticates a new socket. A host presents a bearer token, a
// guest presents a room slug; presenting both, or neither, rejects the
// connection outright.
func (b *Broker) Connect(ctx context.Context, hs Handshake, sink Sink) (*Conn, error) {
	token := strings.TrimSpace(hs.Token)
	roomSlug := strings.TrimSpace(hs.RoomSlug)
	if (token == "") == (roomSlug == "") {
		return nil, fmt.Errorf("%w: exactly one of token or room slug required", ErrAuthRejected)
	}

	c := &Conn{ID: uuid.NewString(), sink: sink}
	switch {
	case token != "":
		claims, err := hosttoken.Verify(b.jwtSecret, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		if _, ok, err := b.store.GetHostByID(claims.ID); err != nil {
			return nil, fmt.Errorf("look up host: %w", err)
		} else if !ok {
			return nil, fmt.Errorf("%w: host no longer exists", ErrAuthRejected)
		}
		c.Role = domain.RoleHost
		c.Host = claims
	default:
		room, ok, err := b.store.GetRoomBySlug(roomSlug)
		if err != nil {
			return nil, fmt.Errorf("look up room: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomSlug)
		}
		if room.Status != domain.RoomActive {
			return nil, ErrRoomArchived
		}
		c.Role = domain.RoleGuest
		c.authSlug = room.Slug
	}

	b.mu.Lock()
	b.conns[c.ID] = c
	b.mu.Unlock()

	b.logger.Info("socket connected", "connId", c.ID, "role", c.Role)
	return c, nil
}

// Dispatch decodes and handles one inbound frame. Failures never cross
// connections: a bad frame, a handler error, or even a handler panic
// produces a message:error event on this connection only.
func (b *Broker) Dispatch(ctx context.Context, c *Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic handling socket event", "connId", c.ID, "panic", r)
			b.sendError(c, "internal error")
		}
	}()

	ev, err := protocol.DecodeInbound(raw)
	if err != nil {
		b.sendError(c, err.Error())
		return
	}

	switch ev := ev.(type) {
	case protocol.RoomJoin:
		err = b.handleJoin(ctx, c, ev)
	case protocol.MessageSend:
		err = b.handleSend(ctx, c, ev)
	case protocol.GuestSetName:
		err = b.handleSetName(c, ev)
	case protocol.MessageRead:
		err = b.handleRead(c, ev)
	case protocol.LanguageChange:
		err = b.handleLanguage(c, ev)
	case protocol.TypingStart:
		b.handleTyping(c, ev.RoomSlug, true)
	case protocol.TypingStop:
		b.handleTyping(c, ev.RoomSlug, false)
	}
	if err != nil {
		b.sendError(c, err.Error())
	}
}

// Disconnect tears down a connection: its rate-limit window, its registry
// entry, and the presence broadcasts the departure implies.
func (b *Broker) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	if b.limiter != nil {
		b.limiter.Reset(c.ID)
	}

	b.mu.Lock()
	delete(b.conns, c.ID)
	b.mu.Unlock()

	m, ok := b.registry.Leave(c.ID)
	if ok {
		b.announceLeave(c.ID, m)
	}
	b.logger.Info("socket disconnected", "connId", c.ID, "role", c.Role)
}

func (b *Broker) handleJoin(ctx context.Context, c *Conn, ev protocol.RoomJoin) error {
	slug := strings.TrimSpace(ev.Slug)
	if slug == "" {
		if c.authSlug == "" {
			return fmt.Errorf("room slug is required")
		}
		slug = c.authSlug
	}
	if c.Role == domain.RoleGuest && slug != c.authSlug {
		return ErrNotRoomOwner
	}

	room, ok, err := b.store.GetRoomBySlug(slug)
	if err != nil {
		return fmt.Errorf("look up room: %w", err)
	}
	if !ok {
		return ErrRoomNotFound
	}
	if c.Role == domain.RoleHost && room.HostID != c.Host.ID {
		return ErrNotRoomOwner
	}
	if room.Status != domain.RoomActive {
		return ErrRoomArchived
	}

	// Switching rooms counts as leaving the old one.
	if c.slug != "" && c.slug != slug {
		if m, left := b.registry.Leave(c.ID); left {
			b.announceLeave(c.ID, m)
		}
	}

	c.slug = room.Slug
	c.roomID = room.ID
	b.registry.Join(c.ID, room.Slug, c.Role)

	c.sink.Send(protocol.EventRoomJoined, protocol.RoomJoined{
		RoomID:    room.ID,
		HostLang:  orDefault(room.HostLang, domain.DefaultHostLang),
		GuestLang: orDefault(room.GuestLang, domain.DefaultGuestLang),
	})
	b.broadcast(room.Slug, c.ID, protocol.EventUserOnline, protocol.Presence{Role: c.Role})

	if c.Role == domain.RoleGuest {
		b.broadcast(room.Slug, "", protocol.EventGuestOnline, protocol.GuestOnline{IsOnline: true})
		b.broadcast(room.Slug, "", protocol.EventRoomGuestCount, protocol.GuestCount{Count: b.registry.GuestCount(room.Slug)})
	}
	return nil
}

func (b *Broker) handleSend(ctx context.Context, c *Conn, ev protocol.MessageSend) error {
	if c.slug == "" {
		return ErrNotJoined
	}

	msgType := ev.MessageType
	if msgType == "" {
		msgType = domain.MessageText
	}

	var text string
	var mediaURL *string
	switch msgType {
	case domain.MessageText:
		text = ev.Text
		if strings.TrimSpace(text) == "" {
			return ErrEmptyMessage
		}
		if utf8.RuneCountInString(text) > maxMessageRunes {
			return ErrMessageTooBig
		}
	case domain.MessageImage, domain.MessageAudio:
		url := strings.TrimSpace(ev.MediaURL)
		if url == "" {
			return fmt.Errorf("media url is required for %s messages", msgType)
		}
		mediaURL = &url
		text = strings.TrimSpace(ev.Text)
		if text == "" {
			if msgType == domain.MessageImage {
				text = imageCaption
			} else {
				text = audioCaption
			}
		}
	default:
		return fmt.Errorf("unknown message type %q", string(msgType))
	}

	if b.limiter != nil && !b.limiter.Allow(c.ID) {
		return ErrRateLimited
	}

	room, ok, err := b.store.GetRoomBySlug(c.slug)
	if err != nil {
		return fmt.Errorf("look up room: %w", err)
	}
	if !ok {
		return ErrRoomNotFound
	}

	sourceLang, targetLang := messageLangs(c.Role, room)
	if lang := strings.TrimSpace(ev.SourceLang); lang != "" {
		sourceLang = lang
	}

	var translated *string
	if msgType == domain.MessageText {
		out := b.translator.Translate(ctx, text, sourceLang, targetLang)
		translated = &out
	}

	msg, err := b.store.InsertMessage(domain.Message{
		RoomID:         room.ID,
		Sender:         c.Role,
		OriginalText:   text,
		TranslatedText: translated,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		MessageType:    msgType,
		MediaURL:       mediaURL,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("persist message", "connId", c.ID, "roomId", room.ID, "err", err)
		return fmt.Errorf("failed to save message")
	}

	if _, _, err := b.store.UpdateRoom(room.ID, store.RoomUpdate{Touch: true}); err != nil {
		b.logger.Warn("touch room after message", "roomId", room.ID, "err", err)
	}

	b.broadcast(c.slug, "", protocol.EventMessageNew, msg)
	return nil
}

func (b *Broker) handleSetName(c *Conn, ev protocol.GuestSetName) error {
	if c.slug == "" {
		return ErrNotJoined
	}
	if c.Role != domain.RoleGuest {
		return nil
	}
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	_, ok, err := b.store.UpdateRoom(c.roomID, store.RoomUpdate{GuestName: &name})
	if err != nil {
		return fmt.Errorf("update guest name: %w", err)
	}
	if !ok {
		return ErrRoomNotFound
	}
	return nil
}

func (b *Broker) handleRead(c *Conn, ev protocol.MessageRead) error {
	if c.slug == "" {
		return ErrNotJoined
	}
	now := time.Now().UTC()
	acked := make([]int64, 0, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		msg, ok, err := b.store.GetMessage(id)
		if err != nil {
			return fmt.Errorf("look up message: %w", err)
		}
		// Only the other party's messages in the caller's own room count.
		if !ok || msg.RoomID != c.roomID || msg.Sender == c.Role {
			continue
		}
		marked, err := b.store.MarkMessageRead(id, now)
		if err != nil {
			return fmt.Errorf("mark message read: %w", err)
		}
		if marked {
			acked = append(acked, id)
		}
	}
	if len(acked) == 0 {
		return nil
	}
	b.broadcast(c.slug, c.ID, protocol.EventMessageReadAck, protocol.ReadAck{MessageIDs: acked, ReadAt: now})
	return nil
}

func (b *Broker) handleLanguage(c *Conn, ev protocol.LanguageChange) error {
	if c.slug == "" {
		return ErrNotJoined
	}
	lang := strings.TrimSpace(ev.Lang)
	if lang == "" {
		return fmt.Errorf("language code is required")
	}

	upd := store.RoomUpdate{Touch: true}
	if c.Role == domain.RoleHost {
		upd.HostLang = &lang
	} else {
		upd.GuestLang = &lang
	}
	_, ok, err := b.store.UpdateRoom(c.roomID, upd)
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	if !ok {
		return ErrRoomNotFound
	}

	b.broadcast(c.slug, "", protocol.EventLanguageChanged, protocol.LanguageChanged{Lang: lang, Role: c.Role})
	return nil
}

// handleTyping relays typing state to the other members of the caller's
// room. A roomSlug in the payload defaults to the joined room; one
// naming a different room is dropped, typing never crosses rooms.
func (b *Broker) handleTyping(c *Conn, roomSlug string, isTyping bool) {
	if c.slug == "" {
		return
	}
	if slug := strings.TrimSpace(roomSlug); slug != "" && slug != c.slug {
		return
	}
	b.broadcast(c.slug, c.ID, protocol.EventTypingIndicator, protocol.TypingIndicator{Sender: c.Role, IsTyping: isTyping})
	roleEvent := protocol.EventGuestTyping
	if c.Role == domain.RoleHost {
		roleEvent = protocol.EventHostTyping
	}
	b.broadcast(c.slug, c.ID, roleEvent, protocol.TypingState{IsTyping: isTyping})
}

// IsGuestOnline reports whether any guest connection is live in the room.
func (b *Broker) IsGuestOnline(roomSlug string) bool {
	return b.registry.IsGuestOnline(roomSlug)
}

// announceLeave broadcasts the presence changes implied by a connection
// leaving the room it was a member of.
func (b *Broker) announceLeave(connID string, m session.Membership) {
	b.broadcast(m.RoomSlug, connID, protocol.EventUserOffline, protocol.Presence{Role: m.Role})
	if m.Role != domain.RoleGuest {
		return
	}
	count := b.registry.GuestCount(m.RoomSlug)
	b.broadcast(m.RoomSlug, "", protocol.EventRoomGuestCount, protocol.GuestCount{Count: count})
	if count == 0 {
		b.broadcast(m.RoomSlug, "", protocol.EventGuestOnline, protocol.GuestOnline{IsOnline: false})
	}
}

// broadcast fans an event out to every member of the room, skipping the
// excluded connection id when non-empty. Sinks are collected under the
// lock and written outside it.
func (b *Broker) broadcast(roomSlug, exclude string, event protocol.EventType, data any) {
	members := b.registry.MembersOf(roomSlug)

	b.mu.Lock()
	sinks := make([]Sink, 0, len(members))
	for _, id := range members {
		if id == exclude {
			continue
		}
		if c, ok := b.conns[id]; ok {
			sinks = append(sinks, c.sink)
		}
	}
	b.mu.Unlock()

	for _, s := range sinks {
		s.Send(event, data)
	}
}

func (b *Broker) sendError(c *Conn, msg string) {
	c.sink.Send(protocol.EventMessageError, protocol.ErrorEvent{Error: msg})
}

func messageLangs(sender domain.Role, room domain.Room) (source, target string) {
	hostLang := orDefault(room.HostLang, domain.DefaultHostLang)
	guestLang := orDefault(room.GuestLang, domain.DefaultGuestLang)
	if sender == domain.RoleHost {
		return hostLang, guestLang
	}
	return guestLang, hostLang
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
