package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	FindByPassengerID(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Booking, error)
	CountByPassengerID(ctx context.Context, passengerID uuid.UUID) (int64, error)
	FindByJourneyID(ctx context.Context, journeyID uuid.UUID) ([]*entity.Booking, error)

	// Business queries
	AttachPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to entity.BookingStatus, at time.Time) (bool, error)
	CloseByJourney(ctx context.Context, journeyID uuid.UUID, from []entity.BookingStatus, to entity.BookingStatus, at time.Time) (int64, error)
}

const bookingColumns = `id, journey_id, passenger_id, driver_id, seats, total_price, status,
	payment_id, cancelled_at, created_at, updated_at`

type bookingRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewBookingRepository(db database.PgxIface, log *zap.Logger) BookingRepository {
	return &bookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "booking")),
	}
}

func scanBooking(row pgx.Row) (*entity.Booking, error) {
	var b entity.Booking
	err := row.Scan(
		&b.ID,
		&b.JourneyID,
		&b.PassengerID,
		&b.DriverID,
		&b.Seats,
		&b.TotalPrice,
		&b.Status,
		&b.PaymentID,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*entity.Booking, error) {
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *bookingRepository) Create(ctx context.Context, b *entity.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		b.ID,
		b.JourneyID,
		b.PassengerID,
		b.DriverID,
		b.Seats,
		b.TotalPrice,
		b.Status,
		b.PaymentID,
		b.CancelledAt,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create booking",
			zap.Error(err),
			zap.String("journey_id", b.JourneyID.String()),
			zap.String("passenger_id", b.PassengerID.String()),
		)
		return fmt.Errorf("create booking %s: %w", b.ID, err)
	}

	return nil
}

func (r *bookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find booking by ID",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("find booking by ID %s: %w", id, err)
	}

	return b, nil
}

func (r *bookingRepository) FindByPassengerID(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, passengerID, limit, offset)
	if err != nil {
		r.log.Error("Failed to find bookings by passenger ID",
			zap.Error(err),
			zap.String("passenger_id", passengerID.String()),
		)
		return nil, fmt.Errorf("find bookings by passenger ID %s: %w", passengerID, err)
	}

	return collectBookings(rows)
}

func (r *bookingRepository) CountByPassengerID(ctx context.Context, passengerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE passenger_id = $1`, passengerID).Scan(&count)
	if err != nil {
		r.log.Error("Failed to count bookings by passenger ID", zap.Error(err))
		return 0, fmt.Errorf("count bookings by passenger ID %s: %w", passengerID, err)
	}
	return count, nil
}

func (r *bookingRepository) FindByJourneyID(ctx context.Context, journeyID uuid.UUID) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE journey_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, journeyID)
	if err != nil {
		r.log.Error("Failed to find bookings by journey ID",
			zap.Error(err),
			zap.String("journey_id", journeyID.String()),
		)
		return nil, fmt.Errorf("find bookings by journey ID %s: %w", journeyID, err)
	}

	return collectBookings(rows)
}

func (r *bookingRepository) AttachPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	query := `UPDATE bookings SET payment_id = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, bookingID, paymentID)
	if err != nil {
		r.log.Error("Failed to attach payment to booking",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("payment_id", paymentID.String()),
		)
		return fmt.Errorf("attach payment %s to booking %s: %w", paymentID, bookingID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booking %s not found", bookingID)
	}

	return nil
}

// TransitionStatus moves a booking from one status to another. It reports
// false when the booking was no longer in the expected status.
func (r *bookingRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to entity.BookingStatus, at time.Time) (bool, error) {
	query := `
		UPDATE bookings SET
			status       = $3,
			cancelled_at = CASE WHEN $3::text = 'CANCELLED' THEN $4 ELSE cancelled_at END,
			updated_at   = $4
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		r.log.Error("Failed to transition booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return false, fmt.Errorf("transition booking %s %s->%s: %w", id, from, to, err)
	}

	return result.RowsAffected() == 1, nil
}

// CloseByJourney moves every booking of a journey that is in one of the from
// statuses to the given status and returns how many rows changed.
func (r *bookingRepository) CloseByJourney(ctx context.Context, journeyID uuid.UUID, from []entity.BookingStatus, to entity.BookingStatus, at time.Time) (int64, error) {
	query := `
		UPDATE bookings SET
			status       = $2,
			cancelled_at = CASE WHEN $2::text = 'CANCELLED' THEN $3 ELSE cancelled_at END,
			updated_at   = $3
		WHERE journey_id = $1 AND status = ANY($4)
	`

	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}

	result, err := r.db.Exec(ctx, query, journeyID, string(to), at, statuses)
	if err != nil {
		r.log.Error("Failed to close bookings of journey",
			zap.Error(err),
			zap.String("journey_id", journeyID.String()),
			zap.Strings("from", statuses),
			zap.String("to", string(to)),
		)
		return 0, fmt.Errorf("close bookings of journey %s: %w", journeyID, err)
	}

	return result.RowsAffected(), nil
}
