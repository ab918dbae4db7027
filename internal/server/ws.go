package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"bridgetalk/internal/broker"
	"bridgetalk/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	maxFrame   = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient adapts a websocket connection to the broker's Sink. Sends are
// buffered and non-blocking; a full buffer drops the frame instead of
// stalling the broker.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) Send(event protocol.EventType, data any) {
	raw, err := protocol.Encode(event, data)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// handleWS upgrades the connection and runs it until either side goes
// away. The credential comes from query parameters: token for hosts,
// room for guests.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	hs := broker.Handshake{
		Token:    r.URL.Query().Get("token"),
		RoomSlug: r.URL.Query().Get("room"),
	}
	if hs.RoomSlug == "" {
		hs.RoomSlug = r.URL.Query().Get("roomSlug")
	}
	if hs.Token == "" {
		if token, ok := bearerToken(r); ok {
			hs.Token = token
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	bc, err := s.broker.Connect(r.Context(), hs, client)
	if err != nil {
		s.logger.Warn("websocket handshake rejected", "err", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.writePump(ctx, client) })
	g.Go(func() error { return s.readPump(ctx, client, bc) })
	_ = g.Wait()

	s.broker.Disconnect(bc)
	_ = conn.Close()
}

// readPump reads frames and dispatches them serially, which preserves
// per-connection event ordering.
func (s *Server) readPump(ctx context.Context, client *wsClient, bc *broker.Conn) error {
	client.conn.SetReadLimit(maxFrame)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read", "connId", bc.ID, "err", err)
			}
			return err
		}
		s.broker.Dispatch(ctx, bc, message)
	}
}

func (s *Server) writePump(ctx context.Context, client *wsClient) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return err
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
