// Package notify pushes user-facing notifications out of the core. Delivery is
// fire-and-forget: a Sink never reports failure to its caller.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindJourneyStarted   Kind = "journey_started"
	KindJourneyCompleted Kind = "journey_completed"
	KindJourneyCancelled Kind = "journey_cancelled"
	KindPayout           Kind = "payout"
	KindPaymentHeld      Kind = "payment_held"
	KindPaymentFailed    Kind = "payment_failed"
	KindPaymentRefunded  Kind = "payment_refunded"
	KindNewMessage       Kind = "new_message"
)

type Notification struct {
	Kind  Kind              `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Sink interface {
	Notify(ctx context.Context, userID uuid.UUID, n Notification)
}

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.With(zap.String("component", "notify"))}
}

func (s *LogSink) Notify(_ context.Context, userID uuid.UUID, n Notification) {
	s.log.Info("Notification",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.Any("data", n.Data),
	)
}
