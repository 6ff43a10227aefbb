package repository

import (
	"strings"

	"rideshare-escrow/pkg/database"

	"go.uber.org/zap"
)

type Repository struct {
	Journey JourneyRepository
	Booking BookingRepository
	Payment PaymentRepository
	Chat    ChatRepository
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	return &Repository{
		Journey: NewJourneyRepository(db, log),
		Booking: NewBookingRepository(db, log),
		Payment: NewPaymentRepository(db, log),
		Chat:    NewChatRepository(db, log),
	}
}

// prefixColumns qualifies a comma separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
