package response

import (
	"fmt"
	"time"

	"rideshare-escrow/internal/data/entity"
)

type JourneyResponse struct {
	ID             string               `json:"id"`
	DriverID       string               `json:"driver_id"`
	Departure      string               `json:"departure"`
	Arrival        string               `json:"arrival"`
	DepartureAt    time.Time            `json:"departure_at"`
	TotalSeats     int                  `json:"total_seats"`
	AvailableSeats int                  `json:"available_seats"`
	PricePerSeat   int64                `json:"price_per_seat"`
	Status         entity.JourneyStatus `json:"status"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// JourneyCancelResponse reports how many of the held payments were refunded.
type JourneyCancelResponse struct {
	Journey      JourneyResponse `json:"journey"`
	HeldPayments int             `json:"held_payments"`
	Refunded     int             `json:"refunded"`
	Summary      string          `json:"summary"`
}

type JourneyCompleteResponse struct {
	Journey     JourneyResponse `json:"journey"`
	Released    int             `json:"released"`
	Failed      int             `json:"failed"`
	TotalPayout int64           `json:"total_payout"`
}

type PayoutEntry struct {
	PaymentID    string     `json:"payment_id"`
	JourneyID    string     `json:"journey_id"`
	Amount       int64      `json:"amount"`
	PlatformFee  int64      `json:"platform_fee"`
	DriverPayout int64      `json:"driver_payout"`
	ReleasedAt   *time.Time `json:"released_at"`
}

type PayoutSummaryResponse struct {
	DriverID      string        `json:"driver_id"`
	TotalEarned   int64         `json:"total_earned"`
	PendingEscrow int64         `json:"pending_escrow"`
	TripCount     int           `json:"trip_count"`
	Payouts       []PayoutEntry `json:"payouts"`
}

func JourneyToResponse(j *entity.Journey) JourneyResponse {
	return JourneyResponse{
		ID:             j.ID.String(),
		DriverID:       j.DriverID.String(),
		Departure:      j.Departure,
		Arrival:        j.Arrival,
		DepartureAt:    j.DepartureAt,
		TotalSeats:     j.TotalSeats,
		AvailableSeats: j.AvailableSeats,
		PricePerSeat:   j.PricePerSeat,
		Status:         j.Status,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CancelledAt:    j.CancelledAt,
		CreatedAt:      j.CreatedAt,
	}
}

func RefundSummary(refunded, held int) string {
	return fmt.Sprintf("%d of %d payments refunded", refunded, held)
}

func PayoutSummaryToResponse(s *entity.PayoutSummary) *PayoutSummaryResponse {
	payouts := make([]PayoutEntry, 0, len(s.Payouts))
	for _, p := range s.Payouts {
		payouts = append(payouts, PayoutEntry{
			PaymentID:    p.ID.String(),
			JourneyID:    p.JourneyID.String(),
			Amount:       p.Amount,
			PlatformFee:  p.PlatformFee,
			DriverPayout: p.DriverPayout,
			ReleasedAt:   p.ReleasedAt,
		})
	}

	return &PayoutSummaryResponse{
		DriverID:      s.DriverID.String(),
		TotalEarned:   s.TotalEarned,
		PendingEscrow: s.PendingEscrow,
		TripCount:     s.TripCount,
		Payouts:       payouts,
	}
}
