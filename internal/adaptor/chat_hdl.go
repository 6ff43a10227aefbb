package adaptor

import (
	"context"
	"errors"
	"net/http"

	"rideshare-escrow/internal/chat"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChatHandler struct {
	service usecase.ChatService
	hub     *chat.Hub
	log     *zap.Logger
}

func NewChatHandler(service usecase.ChatService, hub *chat.Hub, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		hub:     hub,
		log:     log.With(zap.String("handler", "chat")),
	}
}

// History handles GET /chat/{roomId} (participants)
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	roomID, ok := pathUUID(w, r, "roomId")
	if !ok {
		return
	}

	if err := h.service.Authorize(r.Context(), roomID, userID, role); err != nil {
		handleServiceError(h.log, w, err, "read chat history")
		return
	}

	messages, err := h.service.History(r.Context(), roomID)
	if err != nil {
		handleServiceError(h.log, w, err, "read chat history")
		return
	}

	utils.ResponseSuccess(w, "success", messages)
}

// Send handles POST /chat/{roomId}/send (participants). REST fallback for
// clients without a live connection.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	roomID, ok := pathUUID(w, r, "roomId")
	if !ok {
		return
	}

	var req request.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}
	if req.SenderID != "" && req.SenderID != userID.String() {
		utils.ResponseForbidden(w, "senderId does not match the authenticated user")
		return
	}

	if err := h.service.Authorize(r.Context(), roomID, userID, role); err != nil {
		handleServiceError(h.log, w, err, "send chat message")
		return
	}

	msg, err := h.service.SendMessage(r.Context(), roomID, userID, req.SenderName, req.Text, "")
	if err != nil {
		handleServiceError(h.log, w, err, "send chat message")
		return
	}

	utils.ResponseCreated(w, "Message sent", msg)
}

// Connect handles GET /chat/{roomId}/ws?userId=... (participants). Every
// inbound frame is persisted, echoed to the sender and broadcast to the
// room's other sessions.
func (h *ChatHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	roomID, ok := pathUUID(w, r, "roomId")
	if !ok {
		return
	}

	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != userID.String() {
		utils.ResponseForbidden(w, "userId does not match the authenticated user")
		return
	}
	if err := h.service.Authorize(r.Context(), roomID, userID, role); err != nil {
		handleServiceError(h.log, w, err, "join chat room")
		return
	}

	conn, err := chat.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		h.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	// the session outlives the handshake request
	ctx := context.WithoutCancel(r.Context())
	session := chat.NewSession(h.hub, conn, roomID, userID)
	session.Serve(func(s *chat.Session, frame chat.InboundFrame) {
		h.handleFrame(ctx, s, frame)
	})
}

func (h *ChatHandler) handleFrame(ctx context.Context, s *chat.Session, frame chat.InboundFrame) {
	if frame.SenderID != "" {
		if id, err := uuid.Parse(frame.SenderID); err != nil || id != s.UserID {
			s.SendFrame(chat.Frame{Type: chat.FrameError, Error: "senderId does not match this connection"})
			return
		}
	}

	msg, err := h.service.SendMessage(ctx, s.RoomID, s.UserID, frame.SenderName, frame.Text, s.ID)
	if err != nil {
		if !errors.Is(err, usecase.ErrValidation) {
			h.log.Error("Failed to relay chat frame", zap.Error(err), zap.String("room_id", s.RoomID.String()))
			err = errors.New("message could not be delivered")
		}
		s.SendFrame(chat.Frame{Type: chat.FrameError, Error: err.Error()})
		return
	}

	s.SendFrame(chat.Frame{Type: chat.FrameMessage, Message: msg})
}
