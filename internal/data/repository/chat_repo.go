package repository

import (
	"context"
	"fmt"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/pkg/database"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChatRepository interface {
	Append(ctx context.Context, msg *entity.ChatMessage) error
	FindByRoomID(ctx context.Context, roomID uuid.UUID) ([]*entity.ChatMessage, error)
	FindSenderIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

type chatRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewChatRepository(db database.PgxIface, log *zap.Logger) ChatRepository {
	return &chatRepository{
		db:  db,
		log: log.With(zap.String("repository", "chat")),
	}
}

// Append stores the message and fills in its sequence number.
func (r *chatRepository) Append(ctx context.Context, msg *entity.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, room_id, sender_id, sender_name, text, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	err := r.db.QueryRow(ctx, query,
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.SenderName,
		msg.Text,
		msg.SentAt,
	).Scan(&msg.Seq)
	if err != nil {
		r.log.Error("Failed to append chat message",
			zap.Error(err),
			zap.String("room_id", msg.RoomID.String()),
			zap.String("sender_id", msg.SenderID.String()),
		)
		return fmt.Errorf("append message to room %s: %w", msg.RoomID, err)
	}

	return nil
}

func (r *chatRepository) FindByRoomID(ctx context.Context, roomID uuid.UUID) ([]*entity.ChatMessage, error) {
	query := `
		SELECT id, seq, room_id, sender_id, sender_name, text, sent_at
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY sent_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, roomID)
	if err != nil {
		r.log.Error("Failed to load chat history",
			zap.Error(err),
			zap.String("room_id", roomID.String()),
		)
		return nil, fmt.Errorf("find messages of room %s: %w", roomID, err)
	}
	defer rows.Close()

	messages := make([]*entity.ChatMessage, 0)
	for rows.Next() {
		var m entity.ChatMessage
		if err := rows.Scan(&m.ID, &m.Seq, &m.RoomID, &m.SenderID, &m.SenderName, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		messages = append(messages, &m)
	}

	return messages, rows.Err()
}

func (r *chatRepository) FindSenderIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT sender_id FROM chat_messages WHERE room_id = $1`, roomID)
	if err != nil {
		r.log.Error("Failed to find room senders",
			zap.Error(err),
			zap.String("room_id", roomID.String()),
		)
		return nil, fmt.Errorf("find senders of room %s: %w", roomID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sender id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
