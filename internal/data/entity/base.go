package entity

import (
	"time"

	"github.com/google/uuid"
)

type Base struct {
	ID        uuid.UUID `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewBase stamps a fresh id and creation time. Times are truncated to
// microseconds, the resolution Postgres keeps, so values survive a round trip.
func NewBase(now time.Time) Base {
	now = now.UTC().Truncate(time.Microsecond)
	return Base{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
