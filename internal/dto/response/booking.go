package response

import (
	"time"

	"rideshare-escrow/internal/data/entity"
)

type BookingResponse struct {
	ID          string               `json:"id"`
	JourneyID   string               `json:"journey_id"`
	PassengerID string               `json:"passenger_id"`
	DriverID    string               `json:"driver_id"`
	Seats       int                  `json:"seats"`
	TotalPrice  int64                `json:"total_price"`
	Status      entity.BookingStatus `json:"status"`
	PaymentID   *string              `json:"payment_id,omitempty"`
	Payment     *PaymentResponse     `json:"payment,omitempty"`
	CancelledAt *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

type CancelBookingResponse struct {
	Booking  BookingResponse `json:"booking"`
	Refunded bool            `json:"refunded"`
}

func BookingToResponse(b *entity.Booking) BookingResponse {
	var paymentID *string
	if b.PaymentID != nil {
		id := b.PaymentID.String()
		paymentID = &id
	}

	return BookingResponse{
		ID:          b.ID.String(),
		JourneyID:   b.JourneyID.String(),
		PassengerID: b.PassengerID.String(),
		DriverID:    b.DriverID.String(),
		Seats:       b.Seats,
		TotalPrice:  b.TotalPrice,
		Status:      b.Status,
		PaymentID:   paymentID,
		CancelledAt: b.CancelledAt,
		CreatedAt:   b.CreatedAt,
	}
}
