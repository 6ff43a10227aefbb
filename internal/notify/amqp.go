package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends notifications to a topic exchange. The push service
// consumes them with routing key "notify.<kind>".
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

type envelope struct {
	UserID uuid.UUID `json:"userId"`
	SentAt time.Time `json:"sentAt"`
	Notification
}

// NewPublisher dials the broker, retrying a few times while it starts up.
func NewPublisher(ctx context.Context, url, exchange string, log *zap.Logger) (*Publisher, error) {
	log = log.With(zap.String("component", "notify_amqp"))

	const maxRetries = 5
	retryDelay := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		p, err := dial(url, exchange, log)
		if err == nil {
			log.Info("Connected to RabbitMQ", zap.String("exchange", exchange), zap.Int("attempt", attempt))
			return p, nil
		}
		lastErr = err

		log.Warn("RabbitMQ connection attempt failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", retryDelay),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxRetries, lastErr)
}

func dial(url, exchange string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (p *Publisher) Notify(ctx context.Context, userID uuid.UUID, n Notification) {
	body, err := json.Marshal(envelope{UserID: userID, SentAt: time.Now().UTC(), Notification: n})
	if err != nil {
		p.log.Error("Failed to encode notification", zap.Error(err))
		return
	}

	p.mu.RLock()
	ch, closed := p.ch, p.closed
	p.mu.RUnlock()

	if closed || ch == nil {
		p.log.Warn("Notification dropped, publisher closed",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(n.Kind)),
		)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(publishCtx, p.exchange, "notify."+string(n.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.log.Error("Failed to publish notification",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("kind", string(n.Kind)),
		)
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
