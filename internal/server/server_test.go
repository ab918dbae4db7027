package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"bridgetalk/internal/broker"
	"bridgetalk/internal/session"
	"bridgetalk/pkg/auth"
	"bridgetalk/pkg/domain"
	"bridgetalk/pkg/store"
)

var testSecret = []byte("server-test-secret")

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }
func (allowAllLimiter) Reset(string)      {}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }
func (denyAllLimiter) Reset(string)      {}

type noopTranslator struct{}

func (noopTranslator) Translate(_ context.Context, text, _, _ string) string { return text }

// fakeObjectStore keeps objects in memory and records deletions.
type fakeObjectStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("no such object")
	}
	return "https://media.example.com/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fixture struct {
	server *Server
	store  *store.MemoryStore
	host   domain.Host
}

func newFixture(t *testing.T, loginLimiter broker.Limiter) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	host, err := st.SaveHost(domain.Host{Email: "host@example.com", PasswordHash: hash, Name: "Mei", Language: "zh-TW"})
	if err != nil {
		t.Fatalf("save host: %v", err)
	}
	b := broker.NewBroker(st, noopTranslator{}, allowAllLimiter{}, session.NewRegistry(), testSecret, nil)
	srv := New(Config{
		Store:        st,
		Broker:       b,
		LoginLimiter: loginLimiter,
		JWTSecret:    testSecret,
	})
	return &fixture{server: srv, store: st, host: host}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "host@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("login returned empty token")
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	f.login(t)

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "host@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t, denyAllLimiter{})
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "host@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRoomsCRUD(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	token := f.login(t)

	// create
	rec := f.do(t, http.MethodPost, "/api/rooms", token, map[string]string{"label": "Night market"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var room domain.Room
	if err := json.Unmarshal(rec.Body.Bytes(), &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room.Slug == "" || room.HostID != f.host.ID || room.Status != domain.RoomActive {
		t.Fatalf("created room = %+v", room)
	}
	if room.HostLang != domain.DefaultHostLang || room.GuestLang != domain.DefaultGuestLang {
		t.Fatalf("room languages = %s/%s, want defaults", room.HostLang, room.GuestLang)
	}

	// list
	rec = f.do(t, http.MethodGet, "/api/rooms", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("list count = %d, want 1", list.Count)
	}

	// update
	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/api/rooms/%d", room.ID), token, map[string]string{"status": "archived"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated domain.Room
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated room: %v", err)
	}
	if updated.Status != domain.RoomArchived {
		t.Fatalf("status = %q, want archived", updated.Status)
	}

	// delete
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/rooms/%d", room.ID), token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d", room.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted room status = %d, want 404", rec.Code)
	}
}

func TestRoomsRequireAuth(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	if rec := f.do(t, http.MethodGet, "/api/rooms", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/rooms", "garbage-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestRoomsHideForeignRooms(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	token := f.login(t)
	other, err := f.store.SaveHost(domain.Host{Email: "other@example.com", Name: "Arthit"})
	if err != nil {
		t.Fatalf("save host: %v", err)
	}
	room, err := f.store.CreateRoom(domain.Room{Slug: "foreign", HostID: other.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d", room.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign room status = %d, want 404", rec.Code)
	}
}

func TestChatInfo(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	room, err := f.store.CreateRoom(domain.Room{
		Slug: "guest-slug", HostID: f.host.ID, Label: "Stall",
		HostLang: "zh-TW", GuestLang: "th", Status: domain.RoomActive,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/chat/"+room.Slug, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var info struct {
		Slug      string            `json:"slug"`
		HostName  string            `json:"hostName"`
		Languages []domain.Language `json:"languages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Slug != room.Slug || info.HostName != "Mei" {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Languages) == 0 {
		t.Fatalf("info should list supported languages")
	}
}

func TestChatHidesArchivedAndUnknownRooms(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	room, err := f.store.CreateRoom(domain.Room{Slug: "was-active", HostID: f.host.ID, Status: domain.RoomArchived})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if rec := f.do(t, http.MethodGet, "/api/chat/"+room.Slug, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("archived room status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/chat/no-such-slug", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room status = %d, want 404", rec.Code)
	}
}

func TestChatGuestUpdatesNameAndLanguage(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	room, err := f.store.CreateRoom(domain.Room{Slug: "guest-slug", HostID: f.host.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	rec := f.do(t, http.MethodPatch, "/api/chat/"+room.Slug, "", map[string]string{
		"guestName": "Somchai",
		"guestLang": "vi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	stored, _, _ := f.store.GetRoomByID(room.ID)
	if stored.GuestName == nil || *stored.GuestName != "Somchai" || stored.GuestLang != "vi" {
		t.Fatalf("room = %+v", stored)
	}
}

func TestMessagePagination(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	token := f.login(t)
	room, err := f.store.CreateRoom(domain.Room{Slug: "paged", HostID: f.host.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := f.store.InsertMessage(domain.Message{
			RoomID: room.ID, Sender: domain.RoleGuest,
			OriginalText: fmt.Sprintf("msg-%d", i), MessageType: domain.MessageText,
		}); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/messages?limit=3", room.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Items []domain.Message `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("page size = %d, want 3", len(page.Items))
	}
	if page.Items[0].OriginalText != "msg-6" {
		t.Fatalf("newest first expected, got %q", page.Items[0].OriginalText)
	}

	before := page.Items[len(page.Items)-1].ID
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/messages?limit=3&before=%d", room.ID, before), token, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 3 || page.Items[0].ID >= before {
		t.Fatalf("cursor page wrong: %+v", page.Items)
	}

	// Guests read history through the chat endpoint.
	rec = f.do(t, http.MethodGet, "/api/chat/"+room.Slug+"/messages?limit=50", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat messages status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode chat page: %v", err)
	}
	if len(page.Items) != 7 {
		t.Fatalf("chat page size = %d, want 7", len(page.Items))
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	rec := f.do(t, http.MethodGet, "/api/languages", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "zh-TW") {
		t.Fatalf("languages body = %s", rec.Body.String())
	}
}

func TestUploadWithoutObjectStore(t *testing.T) {
	f := newFixture(t, allowAllLimiter{})
	token := f.login(t)
	rec := f.do(t, http.MethodPost, "/api/upload", token, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func newUploadFixture(t *testing.T) (*fixture, *fakeObjectStore) {
	t.Helper()
	f := newFixture(t, allowAllLimiter{})
	objects := newFakeObjectStore()
	f.server.objects = objects
	return f, objects
}

// countingReader tallies how many bytes the handler pulls off the wire.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func multipartFile(t *testing.T, contentType string, content []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadRoundTrip(t *testing.T) {
	f, objects := newUploadFixture(t)
	token := f.login(t)

	body, contentType := multipartFile(t, "image/png", []byte("png-bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasSuffix(resp.Key, ".png") || resp.URL != "/uploads/"+resp.Key {
		t.Fatalf("response = %+v", resp)
	}
	if string(objects.objects[resp.Key]) != "png-bytes" {
		t.Fatalf("object store missing uploaded content")
	}

	rec = f.do(t, http.MethodGet, resp.URL, "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("fetch status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, resp.Key) {
		t.Fatalf("redirect location = %q", loc)
	}
}

func TestUploadOversizeBodyStopsReadingEarly(t *testing.T) {
	f, _ := newUploadFixture(t)
	room, err := f.store.CreateRoom(domain.Room{Slug: "upload-room", HostID: f.host.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	buf, contentType := multipartFile(t, "image/png", bytes.Repeat([]byte("a"), 8<<20), nil)
	body := &countingReader{r: buf}
	req := httptest.NewRequest(http.MethodPost, "/api/upload?room="+room.Slug, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if limit := int64(maxUploadBytes + 64<<10); body.n > limit {
		t.Fatalf("server read %d bytes of an oversize body, want at most %d", body.n, limit)
	}
}

func TestUploadGuestRoomInFormStaysCapped(t *testing.T) {
	f, _ := newUploadFixture(t)
	room, err := f.store.CreateRoom(domain.Room{Slug: "upload-form", HostID: f.host.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	buf, contentType := multipartFile(t, "image/png", bytes.Repeat([]byte("a"), 8<<20), map[string]string{"room": room.Slug})
	body := &countingReader{r: buf}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	// Authorization parses the form here, so the read must already be
	// bounded when it happens.
	if rec.Code == http.StatusCreated {
		t.Fatalf("oversize upload must be rejected, got 201")
	}
	if limit := int64(maxUploadBytes + 64<<10); body.n > limit {
		t.Fatalf("server read %d bytes of an oversize body, want at most %d", body.n, limit)
	}
}

func TestDeleteRoomRemovesMediaObjects(t *testing.T) {
	f, objects := newUploadFixture(t)
	token := f.login(t)
	room, err := f.store.CreateRoom(domain.Room{Slug: "media-room", HostID: f.host.ID, Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	objects.objects["pic.png"] = []byte("img")
	mediaURL := "/uploads/pic.png"
	if _, err := f.store.InsertMessage(domain.Message{
		RoomID: room.ID, Sender: domain.RoleGuest,
		OriginalText: "📷 圖片", MessageType: domain.MessageImage, MediaURL: &mediaURL,
	}); err != nil {
		t.Fatalf("insert media message: %v", err)
	}
	if _, err := f.store.InsertMessage(domain.Message{
		RoomID: room.ID, Sender: domain.RoleGuest,
		OriginalText: "no media here", MessageType: domain.MessageText,
	}); err != nil {
		t.Fatalf("insert text message: %v", err)
	}

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/rooms/%d", room.ID), token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(objects.deleted) != 1 || objects.deleted[0] != "pic.png" {
		t.Fatalf("deleted objects = %v, want [pic.png]", objects.deleted)
	}
	if _, ok := objects.objects["pic.png"]; ok {
		t.Fatalf("media object should be gone after room deletion")
	}
}
