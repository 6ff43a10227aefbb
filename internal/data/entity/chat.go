package entity

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one entry of a room's append-only log. Seq is assigned by
// the store and breaks ties between equal timestamps.
type ChatMessage struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Seq        int64     `db:"seq" json:"seq"`
	RoomID     uuid.UUID `db:"room_id" json:"roomId"`
	SenderID   uuid.UUID `db:"sender_id" json:"senderId"`
	SenderName string    `db:"sender_name" json:"senderName"`
	Text       string    `db:"text" json:"text"`
	SentAt     time.Time `db:"sent_at" json:"timestamp"`
}
