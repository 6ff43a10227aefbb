package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"rideshare-escrow/internal/data/entity"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const roomChannelPrefix = "chat:room:"

func RoomChannel(roomID uuid.UUID) string {
	return roomChannelPrefix + roomID.String()
}

type busEnvelope struct {
	ExcludeSession string              `json:"excludeSession,omitempty"`
	Message        *entity.ChatMessage `json:"message"`
}

// RedisBus fans messages out through Redis pub/sub so every instance
// delivers to its own sessions. Presence stays per instance.
type RedisBus struct {
	hub    *Hub
	client *redis.Client
	log    *zap.Logger
}

func NewRedisBus(hub *Hub, client *redis.Client, log *zap.Logger) *RedisBus {
	return &RedisBus{
		hub:    hub,
		client: client,
		log:    log.With(zap.String("component", "chat_bus")),
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg *entity.ChatMessage, excludeSession string) error {
	payload, err := json.Marshal(busEnvelope{ExcludeSession: excludeSession, Message: msg})
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}

	if err := b.client.Publish(ctx, RoomChannel(msg.RoomID), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", RoomChannel(msg.RoomID), err)
	}
	return nil
}

func (b *RedisBus) IsOnline(roomID, userID uuid.UUID) bool {
	return b.hub.IsOnline(roomID, userID)
}

// Run relays room channels to local sessions until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) {
	sub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	b.log.Info("Chat bus subscribed", zap.String("pattern", roomChannelPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Chat bus stopped")
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := b.dispatch(m.Channel, m.Payload); err != nil {
				b.log.Warn("Dropping chat bus message", zap.Error(err), zap.String("channel", m.Channel))
			}
		}
	}
}

func (b *RedisBus) dispatch(channel, payload string) error {
	roomID, err := uuid.Parse(strings.TrimPrefix(channel, roomChannelPrefix))
	if err != nil {
		return fmt.Errorf("parse room from channel: %w", err)
	}

	var env busEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("decode bus envelope: %w", err)
	}
	if env.Message == nil || env.Message.RoomID != roomID {
		return fmt.Errorf("envelope does not belong to room %s", roomID)
	}

	frame, err := json.Marshal(Frame{Type: FrameMessage, Message: env.Message})
	if err != nil {
		return fmt.Errorf("encode chat frame: %w", err)
	}
	b.hub.Deliver(roomID, frame, env.ExcludeSession)
	return nil
}
