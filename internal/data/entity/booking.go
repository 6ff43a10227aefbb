package entity

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingStatusConfirmed      BookingStatus = "CONFIRMED"
	BookingStatusCancelled      BookingStatus = "CANCELLED"
	BookingStatusCompleted      BookingStatus = "COMPLETED"
)

func (s BookingStatus) IsClosed() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// Booking holds the seats a passenger reserved on a journey and points at
// the payment that funds them.
type Booking struct {
	Base
	JourneyID   uuid.UUID     `db:"journey_id"`
	PassengerID uuid.UUID     `db:"passenger_id"`
	DriverID    uuid.UUID     `db:"driver_id"`
	Seats       int           `db:"seats"`
	TotalPrice  int64         `db:"total_price"`
	Status      BookingStatus `db:"status"`
	PaymentID   *uuid.UUID    `db:"payment_id"`
	CancelledAt *time.Time    `db:"cancelled_at"`
}

func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return b.PassengerID == userID || b.DriverID == userID
}
