package usecase

import (
	"context"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/gateway"
	"rideshare-escrow/internal/notify"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatRelay fans a persisted message out to live sessions and answers presence.
// Both the in-process hub and the Redis bus satisfy it.
type ChatRelay interface {
	Publish(ctx context.Context, msg *entity.ChatMessage, excludeSession string) error
	IsOnline(roomID, userID uuid.UUID) bool
}

// Dependencies are the external collaborators of the services.
// Dedupe may be nil when Redis is not configured.
type Dependencies struct {
	Gateway  gateway.Gateway
	Registry *gateway.Registry
	Notifier notify.Sink
	Relay    ChatRelay
	Dedupe   repository.WebhookDedupe
}

type Service struct {
	Journey    JourneyService
	Booking    BookingService
	Payment    PaymentService
	Chat       ChatService
	Reconciler *Reconciler
}

func NewService(repo *repository.Repository, deps Dependencies, config *utils.Config, log *zap.Logger) *Service {
	payment := newPaymentService(repo, deps, config, log)

	return &Service{
		Journey:    NewJourneyService(repo, payment, deps.Notifier, log),
		Booking:    NewBookingService(repo, payment, log),
		Payment:    payment,
		Chat:       NewChatService(repo, deps.Relay, deps.Notifier, log),
		Reconciler: NewReconciler(repo, payment, config.Reconcile, log),
	}
}

// now is the clock of every service, truncated to what Postgres stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isAdmin(role string) bool {
	return role == utils.RoleAdmin
}
