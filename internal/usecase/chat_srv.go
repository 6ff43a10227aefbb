package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/metrics"
	"rideshare-escrow/internal/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMessageLength = 2000

type ChatService interface {
	SendMessage(ctx context.Context, roomID, senderID uuid.UUID, senderName, text, excludeSession string) (*entity.ChatMessage, error)
	History(ctx context.Context, roomID uuid.UUID) ([]*entity.ChatMessage, error)
	Participants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	Authorize(ctx context.Context, roomID, userID uuid.UUID, role string) error
}

type chatService struct {
	repo     *repository.Repository
	relay    ChatRelay
	notifier notify.Sink
	log      *zap.Logger
}

func NewChatService(repo *repository.Repository, relay ChatRelay, notifier notify.Sink, log *zap.Logger) ChatService {
	return &chatService{
		repo:     repo,
		relay:    relay,
		notifier: notifier,
		log:      log.With(zap.String("service", "chat")),
	}
}

// SendMessage persists the message first, then fans it out to the room's live
// sessions except excludeSession. Participants without a live session in the
// room get a new_message notification.
func (s *chatService) SendMessage(ctx context.Context, roomID, senderID uuid.UUID, senderName, text, excludeSession string) (*entity.ChatMessage, error) {
	text = strings.TrimSpace(text)
	senderName = strings.TrimSpace(senderName)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrValidation)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxMessageLength)
	}
	if senderName == "" {
		return nil, fmt.Errorf("%w: sender name is required", ErrValidation)
	}

	msg := &entity.ChatMessage{
		ID:         uuid.New(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		SentAt:     now(),
	}
	if err := s.repo.Chat.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.TrackChatMessage()

	if err := s.relay.Publish(ctx, msg, excludeSession); err != nil {
		s.log.Warn("Failed to broadcast message",
			zap.Error(err),
			zap.String("room_id", roomID.String()),
		)
	}

	participants, err := s.Participants(ctx, roomID)
	if err != nil {
		s.log.Error("Failed to resolve room participants", zap.Error(err), zap.String("room_id", roomID.String()))
		return msg, nil
	}

	for _, userID := range participants {
		if userID == senderID || s.relay.IsOnline(roomID, userID) {
			continue
		}
		s.notifier.Notify(ctx, userID, notify.Notification{
			Kind:  notify.KindNewMessage,
			Title: senderName,
			Body:  preview(text),
			Data: map[string]string{
				"roomId":    roomID.String(),
				"messageId": msg.ID.String(),
			},
		})
	}

	return msg, nil
}

// History is ordered by timestamp, then by store sequence.
func (s *chatService) History(ctx context.Context, roomID uuid.UUID) ([]*entity.ChatMessage, error) {
	messages, err := s.repo.Chat.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return messages, nil
}

// Participants merges everyone who has written in the room with the people on
// the booking or journey the room id belongs to.
func (s *chatService) Participants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	senders, err := s.repo.Chat.FindSenderIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find senders: %w", err)
	}

	members, err := s.members(ctx, roomID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(senders)+len(members))
	out := make([]uuid.UUID, 0, len(senders)+len(members))
	for _, id := range append(members, senders...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Authorize lets only participants and admins into a room. A room is a
// booking or a journey; any other id is not a room.
func (s *chatService) Authorize(ctx context.Context, roomID, userID uuid.UUID, role string) error {
	members, err := s.members(ctx, roomID)
	if err != nil {
		return err
	}
	if members == nil {
		return fmt.Errorf("%w: chat room %s", ErrNotFound, roomID)
	}
	if isAdmin(role) {
		return nil
	}
	for _, id := range members {
		if id == userID {
			return nil
		}
	}
	return fmt.Errorf("%w: not a participant of this room", ErrUnauthorized)
}

// members returns nil when the room id is neither a booking nor a journey.
func (s *chatService) members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	booking, err := s.repo.Booking.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	if booking != nil {
		return []uuid.UUID{booking.PassengerID, booking.DriverID}, nil
	}

	journey, err := s.repo.Journey.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find journey: %w", err)
	}
	if journey == nil {
		return nil, nil
	}

	bookings, err := s.repo.Booking.FindByJourneyID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}

	members := []uuid.UUID{journey.DriverID}
	for _, b := range bookings {
		if b.Status != entity.BookingStatusCancelled {
			members = append(members, b.PassengerID)
		}
	}
	return members, nil
}

func preview(text string) string {
	const limit = 120
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "…"
}
