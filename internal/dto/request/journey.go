package request

import (
	"time"

	"rideshare-escrow/internal/data/entity"
)

type CreateJourneyRequest struct {
	Departure    string    `json:"departure" validate:"required,min=2,max=120"`
	Arrival      string    `json:"arrival" validate:"required,min=2,max=120,nefield=Departure"`
	DepartureAt  time.Time `json:"departure_at" validate:"required"`
	TotalSeats   int       `json:"total_seats" validate:"required,min=1,max=8"`
	PricePerSeat int64     `json:"price_per_seat" validate:"min=0"`
}

// UpdateJourneyRequest carries only the fields the driver wants to change.
type UpdateJourneyRequest struct {
	Departure    *string    `json:"departure,omitempty" validate:"omitempty,min=2,max=120"`
	Arrival      *string    `json:"arrival,omitempty" validate:"omitempty,min=2,max=120"`
	DepartureAt  *time.Time `json:"departure_at,omitempty"`
	TotalSeats   *int       `json:"total_seats,omitempty" validate:"omitempty,min=1,max=8"`
	PricePerSeat *int64     `json:"price_per_seat,omitempty" validate:"omitempty,min=0"`
}

func (r UpdateJourneyRequest) Patch() entity.JourneyPatch {
	return entity.JourneyPatch{
		Departure:    r.Departure,
		Arrival:      r.Arrival,
		DepartureAt:  r.DepartureAt,
		TotalSeats:   r.TotalSeats,
		PricePerSeat: r.PricePerSeat,
	}
}

type SearchJourneysRequest struct {
	PaginatedRequest
	Departure string `json:"departure" validate:"omitempty,max=120"`
	Arrival   string `json:"arrival" validate:"omitempty,max=120"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	MinSeats  int    `json:"min_seats" validate:"min=0,max=8"`
}
