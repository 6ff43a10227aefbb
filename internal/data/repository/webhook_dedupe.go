package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WebhookDedupe remembers which gateway events were already processed so a
// replayed callback is dropped before it reaches the payment engine.
type WebhookDedupe interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string)
}

type redisWebhookDedupe struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewWebhookDedupe(rdb *redis.Client, ttl time.Duration, log *zap.Logger) WebhookDedupe {
	return &redisWebhookDedupe{
		rdb: rdb,
		ttl: ttl,
		log: log.With(zap.String("repository", "webhook_dedupe")),
	}
}

func dedupeKey(key string) string {
	return "webhook:seen:" + key
}

// FirstSeen claims key with SETNX and reports whether this caller got it.
func (r *redisWebhookDedupe) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, dedupeKey(key), 1, r.ttl).Result()
	if err != nil {
		r.log.Error("Failed to claim webhook key", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("claim webhook key %s: %w", key, err)
	}
	return ok, nil
}

// Forget releases a claim so a redelivery can be processed again.
func (r *redisWebhookDedupe) Forget(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, dedupeKey(key)).Err(); err != nil {
		r.log.Warn("Failed to release webhook key", zap.Error(err), zap.String("key", key))
	}
}
