package entity

import (
	"time"

	"github.com/google/uuid"
)

type JourneyStatus string

const (
	JourneyStatusScheduled  JourneyStatus = "SCHEDULED"
	JourneyStatusInProgress JourneyStatus = "IN_PROGRESS"
	JourneyStatusCompleted  JourneyStatus = "COMPLETED"
	JourneyStatusCancelled  JourneyStatus = "CANCELLED"
)

// journeyTransitions lists every legal edge of the trip state machine.
var journeyTransitions = map[JourneyStatus][]JourneyStatus{
	JourneyStatusScheduled:  {JourneyStatusInProgress, JourneyStatusCancelled},
	JourneyStatusInProgress: {JourneyStatusCompleted},
}

func (s JourneyStatus) CanTransitionTo(next JourneyStatus) bool {
	for _, allowed := range journeyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JourneyStatus) IsValid() bool {
	switch s {
	case JourneyStatusScheduled, JourneyStatusInProgress, JourneyStatusCompleted, JourneyStatusCancelled:
		return true
	}
	return false
}

// Journey is a driver-posted trip. AvailableSeats stays within [0, TotalSeats];
// the store enforces it with a CHECK constraint and conditional updates.
type Journey struct {
	Base
	DriverID       uuid.UUID     `db:"driver_id"`
	Departure      string        `db:"departure"`
	Arrival        string        `db:"arrival"`
	DepartureAt    time.Time     `db:"departure_at"`
	TotalSeats     int           `db:"total_seats"`
	AvailableSeats int           `db:"available_seats"`
	PricePerSeat   int64         `db:"price_per_seat"`
	Status         JourneyStatus `db:"status"`
	StartedAt      *time.Time    `db:"started_at"`
	CompletedAt    *time.Time    `db:"completed_at"`
	CancelledAt    *time.Time    `db:"cancelled_at"`
}

func (j *Journey) BookedSeats() int {
	return j.TotalSeats - j.AvailableSeats
}

func (j *Journey) IsOwnedBy(driverID uuid.UUID) bool {
	return j.DriverID == driverID
}

// JourneyPatch carries the optional fields of an edit; nil means unchanged.
type JourneyPatch struct {
	Departure    *string
	Arrival      *string
	DepartureAt  *time.Time
	TotalSeats   *int
	PricePerSeat *int64
}

func (p JourneyPatch) IsEmpty() bool {
	return p.Departure == nil && p.Arrival == nil && p.DepartureAt == nil &&
		p.TotalSeats == nil && p.PricePerSeat == nil
}

// JourneyFilter narrows the public journey search.
type JourneyFilter struct {
	Departure string
	Arrival   string
	Date      *time.Time
	MinSeats  int
}
