// Package chat keeps the live chat sessions of this process, grouped by room,
// and fans persisted messages out to them.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Frame is what the server writes to a chat connection.
type Frame struct {
	Type    string              `json:"type"`
	Message *entity.ChatMessage `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

const (
	FrameMessage = "message"
	FrameError   = "error"
)

// Hub is the room registry: roomId -> sessionId -> session. Safe for
// concurrent register, unregister and delivery.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]*Session
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]map[string]*Session),
		log:   log.With(zap.String("component", "chat_hub")),
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	room, ok := h.rooms[s.RoomID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[s.RoomID] = room
	}
	room[s.ID] = s
	h.mu.Unlock()

	metrics.ChatSessionOpened()
	h.log.Info("Chat session registered",
		zap.String("session_id", s.ID),
		zap.String("room_id", s.RoomID.String()),
		zap.String("user_id", s.UserID.String()),
	)
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	room, ok := h.rooms[s.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(room, s.ID)
	if len(room) == 0 {
		delete(h.rooms, s.RoomID)
	}
	h.mu.Unlock()

	s.close()
	metrics.ChatSessionClosed()
	h.log.Info("Chat session unregistered",
		zap.String("session_id", s.ID),
		zap.String("room_id", s.RoomID.String()),
	)
}

// Deliver queues payload on every session of the room except excludeSession.
// A session whose buffer is full is dropped rather than blocking the room.
func (h *Hub) Deliver(roomID uuid.UUID, payload []byte, excludeSession string) int {
	h.mu.RLock()
	var stalled []*Session
	delivered := 0
	for id, s := range h.rooms[roomID] {
		if id == excludeSession {
			continue
		}
		if s.enqueue(payload) {
			delivered++
		} else {
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stalled {
		h.log.Warn("Dropping slow chat session",
			zap.String("session_id", s.ID),
			zap.String("room_id", roomID.String()),
		)
		h.Unregister(s)
	}

	return delivered
}

// Publish delivers a persisted message to this process's sessions.
func (h *Hub) Publish(_ context.Context, msg *entity.ChatMessage, excludeSession string) error {
	payload, err := json.Marshal(Frame{Type: FrameMessage, Message: msg})
	if err != nil {
		return fmt.Errorf("encode chat frame: %w", err)
	}
	h.Deliver(msg.RoomID, payload, excludeSession)
	return nil
}

// IsOnline reports whether the user has at least one live session in the room.
func (h *Hub) IsOnline(roomID, userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.rooms[roomID] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) SessionCount(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
