package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type JourneyRepository interface {
	Create(ctx context.Context, journey *entity.Journey) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Journey, error)
	FindByDriverID(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*entity.Journey, error)
	CountByDriverID(ctx context.Context, driverID uuid.UUID) (int64, error)
	Search(ctx context.Context, filter entity.JourneyFilter, limit, offset int) ([]*entity.Journey, error)
	CountSearch(ctx context.Context, filter entity.JourneyFilter) (int64, error)

	// Conditional writes. Each returns nil when its guard did not match.
	ApplyPatch(ctx context.Context, id, driverID uuid.UUID, patch entity.JourneyPatch, at time.Time) (*entity.Journey, error)
	TransitionStatus(ctx context.Context, id, driverID uuid.UUID, from, to entity.JourneyStatus, at time.Time) (*entity.Journey, error)

	// Seat ledger
	ReserveSeats(ctx context.Context, id uuid.UUID, seats int) (bool, error)
	ReleaseSeats(ctx context.Context, id uuid.UUID, seats int) error
}

const journeyColumns = `id, driver_id, departure, arrival, departure_at, total_seats, available_seats,
	price_per_seat, status, started_at, completed_at, cancelled_at, created_at, updated_at`

type journeyRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewJourneyRepository(db database.PgxIface, log *zap.Logger) JourneyRepository {
	return &journeyRepository{
		db:  db,
		log: log.With(zap.String("repository", "journey")),
	}
}

func scanJourney(row pgx.Row) (*entity.Journey, error) {
	var j entity.Journey
	err := row.Scan(
		&j.ID,
		&j.DriverID,
		&j.Departure,
		&j.Arrival,
		&j.DepartureAt,
		&j.TotalSeats,
		&j.AvailableSeats,
		&j.PricePerSeat,
		&j.Status,
		&j.StartedAt,
		&j.CompletedAt,
		&j.CancelledAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJourneys(rows pgx.Rows) ([]*entity.Journey, error) {
	defer rows.Close()

	var journeys []*entity.Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey row: %w", err)
		}
		journeys = append(journeys, j)
	}
	return journeys, rows.Err()
}

func (r *journeyRepository) Create(ctx context.Context, j *entity.Journey) error {
	query := `
		INSERT INTO journeys (` + journeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Exec(ctx, query,
		j.ID,
		j.DriverID,
		j.Departure,
		j.Arrival,
		j.DepartureAt,
		j.TotalSeats,
		j.AvailableSeats,
		j.PricePerSeat,
		j.Status,
		j.StartedAt,
		j.CompletedAt,
		j.CancelledAt,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create journey",
			zap.Error(err),
			zap.String("journey_id", j.ID.String()),
			zap.String("driver_id", j.DriverID.String()),
		)
		return fmt.Errorf("create journey %s: %w", j.ID, err)
	}

	return nil
}

func (r *journeyRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`

	j, err := scanJourney(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find journey by ID",
			zap.Error(err),
			zap.String("journey_id", id.String()),
		)
		return nil, fmt.Errorf("find journey by ID %s: %w", id, err)
	}

	return j, nil
}

func (r *journeyRepository) FindByDriverID(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*entity.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE driver_id = $1
		ORDER BY departure_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, driverID, limit, offset)
	if err != nil {
		r.log.Error("Failed to find journeys by driver ID",
			zap.Error(err),
			zap.String("driver_id", driverID.String()),
		)
		return nil, fmt.Errorf("find journeys by driver ID %s: %w", driverID, err)
	}

	return collectJourneys(rows)
}

func (r *journeyRepository) CountByDriverID(ctx context.Context, driverID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journeys WHERE driver_id = $1`, driverID).Scan(&count)
	if err != nil {
		r.log.Error("Failed to count journeys by driver ID", zap.Error(err))
		return 0, fmt.Errorf("count journeys by driver ID %s: %w", driverID, err)
	}
	return count, nil
}

// searchClause builds the WHERE clause shared by Search and CountSearch.
// Only bookable journeys (scheduled, not yet departed) are listed.
func searchClause(filter entity.JourneyFilter) (string, []any) {
	conds := []string{"status = 'SCHEDULED'", "departure_at > NOW()"}
	var args []any

	if filter.Departure != "" {
		args = append(args, "%"+filter.Departure+"%")
		conds = append(conds, fmt.Sprintf("departure ILIKE $%d", len(args)))
	}
	if filter.Arrival != "" {
		args = append(args, "%"+filter.Arrival+"%")
		conds = append(conds, fmt.Sprintf("arrival ILIKE $%d", len(args)))
	}
	if filter.Date != nil {
		args = append(args, filter.Date.Format("2006-01-02"))
		conds = append(conds, fmt.Sprintf("departure_at::date = $%d::date", len(args)))
	}
	if filter.MinSeats > 0 {
		args = append(args, filter.MinSeats)
		conds = append(conds, fmt.Sprintf("available_seats >= $%d", len(args)))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *journeyRepository) Search(ctx context.Context, filter entity.JourneyFilter, limit, offset int) ([]*entity.Journey, error) {
	where, args := searchClause(filter)
	args = append(args, limit, offset)
	query := `SELECT ` + journeyColumns + ` FROM journeys` + where +
		fmt.Sprintf(" ORDER BY departure_at ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to search journeys", zap.Error(err))
		return nil, fmt.Errorf("search journeys: %w", err)
	}

	return collectJourneys(rows)
}

func (r *journeyRepository) CountSearch(ctx context.Context, filter entity.JourneyFilter) (int64, error) {
	where, args := searchClause(filter)

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journeys`+where, args...).Scan(&count); err != nil {
		r.log.Error("Failed to count journeys", zap.Error(err))
		return 0, fmt.Errorf("count journeys: %w", err)
	}
	return count, nil
}

// ApplyPatch updates only the provided fields, and only while the journey is
// SCHEDULED and owned by driverID. A new seat total must still cover the
// seats already booked; available seats shift by the same delta.
func (r *journeyRepository) ApplyPatch(ctx context.Context, id, driverID uuid.UUID, patch entity.JourneyPatch, at time.Time) (*entity.Journey, error) {
	query := `
		UPDATE journeys SET
			departure       = COALESCE($3, departure),
			arrival         = COALESCE($4, arrival),
			departure_at    = COALESCE($5, departure_at),
			available_seats = CASE WHEN $6::int IS NULL THEN available_seats
			                       ELSE available_seats + ($6::int - total_seats) END,
			total_seats     = COALESCE($6::int, total_seats),
			price_per_seat  = COALESCE($7, price_per_seat),
			updated_at      = $8
		WHERE id = $1 AND driver_id = $2 AND status = 'SCHEDULED'
		  AND ($6::int IS NULL OR $6::int >= total_seats - available_seats)
		RETURNING ` + journeyColumns

	j, err := scanJourney(r.db.QueryRow(ctx, query,
		id, driverID, patch.Departure, patch.Arrival, patch.DepartureAt, patch.TotalSeats, patch.PricePerSeat, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to patch journey",
			zap.Error(err),
			zap.String("journey_id", id.String()),
		)
		return nil, fmt.Errorf("patch journey %s: %w", id, err)
	}

	return j, nil
}

func (r *journeyRepository) TransitionStatus(ctx context.Context, id, driverID uuid.UUID, from, to entity.JourneyStatus, at time.Time) (*entity.Journey, error) {
	query := `
		UPDATE journeys SET
			status       = $4,
			started_at   = CASE WHEN $4::text = 'IN_PROGRESS' THEN $5 ELSE started_at END,
			completed_at = CASE WHEN $4::text = 'COMPLETED' THEN $5 ELSE completed_at END,
			cancelled_at = CASE WHEN $4::text = 'CANCELLED' THEN $5 ELSE cancelled_at END,
			updated_at   = $5
		WHERE id = $1 AND driver_id = $2 AND status = $3
		RETURNING ` + journeyColumns

	j, err := scanJourney(r.db.QueryRow(ctx, query, id, driverID, string(from), string(to), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to transition journey",
			zap.Error(err),
			zap.String("journey_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil, fmt.Errorf("transition journey %s %s->%s: %w", id, from, to, err)
	}

	return j, nil
}

// ReserveSeats decrements available seats by n in one statement, only if
// at least n remain and the journey is still bookable.
func (r *journeyRepository) ReserveSeats(ctx context.Context, id uuid.UUID, seats int) (bool, error) {
	query := `
		UPDATE journeys
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1 AND status = 'SCHEDULED' AND available_seats >= $2
	`

	result, err := r.db.Exec(ctx, query, id, seats)
	if err != nil {
		r.log.Error("Failed to reserve seats",
			zap.Error(err),
			zap.String("journey_id", id.String()),
			zap.Int("seats", seats),
		)
		return false, fmt.Errorf("reserve %d seats on journey %s: %w", seats, id, err)
	}

	return result.RowsAffected() == 1, nil
}

// ReleaseSeats gives n seats back, capped at the journey's total.
func (r *journeyRepository) ReleaseSeats(ctx context.Context, id uuid.UUID, seats int) error {
	query := `
		UPDATE journeys
		SET available_seats = LEAST(total_seats, available_seats + $2), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, seats)
	if err != nil {
		r.log.Error("Failed to release seats",
			zap.Error(err),
			zap.String("journey_id", id.String()),
			zap.Int("seats", seats),
		)
		return fmt.Errorf("release %d seats on journey %s: %w", seats, id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("journey %s not found", id)
	}

	return nil
}
