package chat

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// InboundFrame is one message typed by a connected participant.
type InboundFrame struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// FrameHandler is called for every inbound frame of a session.
type FrameHandler func(s *Session, frame InboundFrame)

// Session is one live connection of a participant to a room. It exists only
// while the connection is open.
type Session struct {
	ID     string
	RoomID uuid.UUID
	UserID uuid.UUID

	conn *websocket.Conn
	hub  *Hub
	log  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewSession(hub *Hub, conn *websocket.Conn, roomID, userID uuid.UUID) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		RoomID: roomID,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		log:    hub.log.With(zap.String("session_id", id)),
	}
}

// enqueue never blocks. It reports false when the buffer is full or the
// session is already closed.
func (s *Session) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// SendFrame queues a frame for this session only.
func (s *Session) SendFrame(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		s.log.Error("Failed to encode chat frame", zap.Error(err))
		return
	}
	if !s.enqueue(payload) {
		s.log.Warn("Chat frame dropped, session buffer full")
	}
}

// Serve registers the session and pumps frames until the connection closes.
// It blocks for the lifetime of the connection.
func (s *Session) Serve(handle FrameHandler) {
	s.hub.Register(s)
	go s.writePump()
	s.readPump(handle)
}

func (s *Session) readPump(handle FrameHandler) {
	defer func() {
		s.hub.Unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Chat connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.SendFrame(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}

		handle(s, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
