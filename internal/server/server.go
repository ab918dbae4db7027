package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"bridgetalk/internal/broker"
	"bridgetalk/internal/hosttoken"
	"bridgetalk/internal/util"
	"bridgetalk/pkg/auth"
	"bridgetalk/pkg/domain"
	"bridgetalk/pkg/storage"
	"bridgetalk/pkg/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store             store.Store
	Broker            *broker.Broker
	LoginLimiter      broker.Limiter
	ObjectStore       storage.ObjectStore // nil disables uploads
	JWTSecret         []byte
	TrustProxyHeaders bool
	Logger            *slog.Logger
}

// Server exposes the REST and websocket endpoints.
type Server struct {
	store        store.Store
	broker       *broker.Broker
	loginLimiter broker.Limiter
	objects      storage.ObjectStore
	jwtSecret    []byte
	trustProxy   bool
	logger       *slog.Logger
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:        cfg.Store,
		broker:       cfg.Broker,
		loginLimiter: cfg.LoginLimiter,
		objects:      cfg.ObjectStore,
		jwtSecret:    cfg.JWTSecret,
		trustProxy:   cfg.TrustProxyHeaders,
		logger:       logger,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped with request logging and
// CORS.
func (s *Server) Router() http.Handler {
	return util.WithCORS(util.WithRequestLog(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// host room management
	s.mux.Handle("/api/rooms", s.authenticated(s.handleRooms))
	s.mux.Handle("/api/rooms/", s.authenticated(s.handleRoomByID))

	// guest-facing chat endpoints
	s.mux.HandleFunc("/api/chat/", s.handleChat)
	s.mux.HandleFunc("/api/languages", s.handleLanguages)

	// media
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/uploads/", s.handleUploadGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type hostHandler func(http.ResponseWriter, *http.Request, hosttoken.Claims)

func (s *Server) authenticated(next hostHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := hosttoken.Verify(s.jwtSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, claims)
	})
}

// auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ip := util.ClientIP(r, s.trustProxy)
	if s.loginLimiter != nil && !s.loginLimiter.Allow("login:"+ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	host, ok, err := s.store.GetHostByEmail(email)
	if err != nil {
		s.logger.Error("login lookup", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok || !auth.CheckPassword(req.Password, host.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	token, err := hosttoken.Issue(s.jwtSecret, host, hosttoken.DefaultTTL)
	if err != nil {
		s.logger.Error("issue token", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Host: host})
}

// handleLogout exists for client symmetry; tokens are stateless and the
// client discards its copy.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// room handlers
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request, claims hosttoken.Claims) {
	switch r.Method {
	case http.MethodGet:
		rooms, err := s.store.ListRoomsByHost(claims.ID)
		if err != nil {
			s.logger.Error("list rooms", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		items := make([]roomListItem, 0, len(rooms))
		for _, room := range rooms {
			item := roomListItem{
				Room:        room,
				ChatURL:     "/chat/" + room.Slug,
				GuestOnline: s.broker != nil && s.broker.IsGuestOnline(room.Slug),
			}
			if last, ok, err := s.store.LastMessage(room.ID); err == nil && ok {
				item.LastMessage = &last
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		var req createRoomRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		label := strings.TrimSpace(req.Label)
		if label == "" {
			writeError(w, http.StatusBadRequest, "label is required")
			return
		}
		hostLang := strings.TrimSpace(req.HostLang)
		if hostLang == "" {
			hostLang = domain.DefaultHostLang
		}
		guestLang := strings.TrimSpace(req.GuestLang)
		if guestLang == "" {
			guestLang = domain.DefaultGuestLang
		}
		room, err := s.store.CreateRoom(domain.Room{
			Slug:      util.NewSlug(),
			HostID:    claims.ID,
			Label:     label,
			HostLang:  hostLang,
			GuestLang: guestLang,
			Status:    domain.RoomActive,
		})
		if err != nil {
			s.logger.Error("create room", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, room)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request, claims hosttoken.Claims) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	idPart, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}
	room, ok, err := s.store.GetRoomByID(id)
	if err != nil {
		s.logger.Error("get room", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok || room.HostID != claims.ID {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	switch sub {
	case "":
		s.handleRoom(w, r, room)
	case "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.writeMessagePage(w, r, room.ID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request, room domain.Room) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, room)
	case http.MethodPatch:
		var req updateRoomRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		upd := store.RoomUpdate{}
		if label := strings.TrimSpace(req.Label); label != "" {
			upd.Label = &label
		}
		if lang := strings.TrimSpace(req.HostLang); lang != "" {
			upd.HostLang = &lang
		}
		if req.Status != "" {
			status, ok := parseRoomStatus(req.Status)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid status")
				return
			}
			upd.Status = &status
		}
		if upd.Label == nil && upd.HostLang == nil && upd.Status == nil {
			writeError(w, http.StatusBadRequest, "label, hostLang or status is required")
			return
		}
		updated, ok, err := s.store.UpdateRoom(room.ID, upd)
		if err != nil {
			s.logger.Error("update room", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		s.deleteRoomMedia(r.Context(), room.ID)
		if err := s.store.DeleteRoom(room.ID); err != nil {
			s.logger.Error("delete room", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// chat handlers serve guests; the room slug in the path is the credential.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	slug, sub, _ := strings.Cut(rest, "/")
	if slug == "" {
		http.NotFound(w, r)
		return
	}
	room, ok, err := s.store.GetRoomBySlug(slug)
	if err != nil {
		s.logger.Error("get room by slug", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Archived rooms are invisible to guests.
	if !ok || room.Status != domain.RoomActive {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	switch sub {
	case "":
		s.handleChatRoom(w, r, room)
	case "guest":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		s.handleChatRoom(w, r, room)
	case "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.writeMessagePage(w, r, room.ID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleChatRoom(w http.ResponseWriter, r *http.Request, room domain.Room) {
	switch r.Method {
	case http.MethodGet:
		info := chatInfo{
			Slug:      room.Slug,
			Label:     room.Label,
			GuestName: room.GuestName,
			HostLang:  room.HostLang,
			GuestLang: room.GuestLang,
			Languages: domain.SupportedLanguages,
		}
		if host, ok, err := s.store.GetHostByID(room.HostID); err == nil && ok {
			info.HostName = host.Name
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodPatch:
		var req updateChatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		upd := store.RoomUpdate{}
		if name := strings.TrimSpace(req.GuestName); name != "" {
			upd.GuestName = &name
		}
		if lang := strings.TrimSpace(req.GuestLang); lang != "" {
			upd.GuestLang = &lang
		}
		if upd.GuestName == nil && upd.GuestLang == nil {
			writeError(w, http.StatusBadRequest, "guestName or guestLang is required")
			return
		}
		updated, ok, err := s.store.UpdateRoom(room.ID, upd)
		if err != nil {
			s.logger.Error("update room", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": domain.SupportedLanguages})
}

func (s *Server) writeMessagePage(w http.ResponseWriter, r *http.Request, roomID int64) {
	var beforeID int64
	if v := r.URL.Query().Get("before"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		beforeID = id
	}
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}
	messages, err := s.store.ListMessages(roomID, beforeID, limit)
	if err != nil {
		s.logger.Error("list messages", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": messages, "count": len(messages)})
}

// media handlers
const maxUploadBytes = 5 << 20

var uploadExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"audio/webm": ".webm",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.objects == nil {
		writeError(w, http.StatusNotImplemented, "uploads are not configured")
		return
	}
	// The cap must be in place before anything touches the body; the
	// guest authorization path may parse the form.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+4096)
	if !s.uploadAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds 5MB limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	if header.Size > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds 5MB limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	ext, ok := uploadExtensions[contentType]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	key := util.NewID() + ext
	if err := s.objects.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		s.logger.Error("store upload", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Key:      key,
		URL:      "/uploads/" + key,
		Type:     contentType,
		Filename: header.Filename,
	})
}

// uploadAuthorized accepts either a host bearer token or a valid room
// slug supplied by a guest. The query string is checked before the form
// so authorization usually resolves without reading the body.
func (s *Server) uploadAuthorized(r *http.Request) bool {
	if token, ok := bearerToken(r); ok {
		if _, err := hosttoken.Verify(s.jwtSecret, token); err == nil {
			return true
		}
		return false
	}
	slug := strings.TrimSpace(r.URL.Query().Get("room"))
	if slug == "" {
		slug = strings.TrimSpace(r.FormValue("room"))
	}
	if slug == "" {
		return false
	}
	room, ok, err := s.store.GetRoomBySlug(slug)
	return err == nil && ok && room.Status == domain.RoomActive
}

// deleteRoomMedia removes the media objects referenced by a room's
// messages before the rows pointing at them go away. Cleanup is best
// effort: a storage failure is logged, never blocks room deletion.
func (s *Server) deleteRoomMedia(ctx context.Context, roomID int64) {
	if s.objects == nil {
		return
	}
	var before int64
	for {
		messages, err := s.store.ListMessages(roomID, before, maxPageSize)
		if err != nil {
			s.logger.Warn("list messages for media cleanup", "roomId", roomID, "err", err)
			return
		}
		for _, msg := range messages {
			if msg.MediaURL == nil {
				continue
			}
			key := path.Base(strings.TrimPrefix(*msg.MediaURL, "/uploads/"))
			if key == "" || key == "." || key == "/" {
				continue
			}
			if err := s.objects.Delete(ctx, key); err != nil {
				s.logger.Warn("delete media object", "key", key, "err", err)
			}
		}
		if len(messages) < maxPageSize {
			return
		}
		before = messages[len(messages)-1].ID
	}
}

func (s *Server) handleUploadGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.objects == nil {
		writeError(w, http.StatusNotImplemented, "uploads are not configured")
		return
	}
	key := path.Base(strings.TrimPrefix(r.URL.Path, "/uploads/"))
	if key == "" || key == "." || key == "/" {
		http.NotFound(w, r)
		return
	}
	url, err := s.objects.PresignGet(r.Context(), key, 15*time.Minute)
	if err != nil {
		s.logger.Error("presign upload", "key", key, "err", err)
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	Host  domain.Host `json:"host"`
}

type createRoomRequest struct {
	Label     string `json:"label"`
	HostLang  string `json:"hostLang"`
	GuestLang string `json:"guestLang"`
}

type updateRoomRequest struct {
	Label    string `json:"label"`
	HostLang string `json:"hostLang"`
	Status   string `json:"status"`
}

type updateChatRequest struct {
	GuestName string `json:"guestName"`
	GuestLang string `json:"guestLang"`
}

type roomListItem struct {
	domain.Room
	ChatURL     string          `json:"chatUrl"`
	GuestOnline bool            `json:"guestOnline"`
	LastMessage *domain.Message `json:"lastMessage,omitempty"`
}

type chatInfo struct {
	Slug      string            `json:"slug"`
	Label     string            `json:"label"`
	HostName  string            `json:"hostName,omitempty"`
	GuestName *string           `json:"guestName"`
	HostLang  string            `json:"hostLang"`
	GuestLang string            `json:"guestLang"`
	Languages []domain.Language `json:"languages"`
}

type uploadResponse struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

func parseRoomStatus(status string) (domain.RoomStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case string(domain.RoomActive):
		return domain.RoomActive, true
	case string(domain.RoomArchived):
		return domain.RoomArchived, true
	default:
		return "", false
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
