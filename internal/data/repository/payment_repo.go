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

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
	FindByReference(ctx context.Context, reference string) (*entity.Payment, error)
	FindLiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error)
	FindByPassengerID(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Payment, error)
	CountByPassengerID(ctx context.Context, passengerID uuid.UUID) (int64, error)
	FindByJourneyAndStatus(ctx context.Context, journeyID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error)
	FindByDriverAndStatus(ctx context.Context, driverID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error)

	// Escrow state machine. Transition returns nil when the payment was not
	// in the expected status, which is how concurrent callers lose the race.
	Transition(ctx context.Context, id uuid.UUID, from, to entity.PaymentStatus, at time.Time, reason *string) (*entity.Payment, error)
	AttachGatewayRefs(ctx context.Context, id uuid.UUID, gatewayRef, transactionID *string) error
	RecordSettlement(ctx context.Context, id uuid.UUID, status entity.SettlementStatus, settlementErr *string) error

	// Reconciliation sweeps
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.Payment, error)
	FindSettlementFailed(ctx context.Context, limit int) ([]*entity.Payment, error)
	FindHeldOnClosedJourneys(ctx context.Context, limit int) ([]*entity.Payment, error)
}

const paymentColumns = `id, reference, booking_id, journey_id, passenger_id, driver_id, amount,
	platform_fee, driver_payout, currency, payment_method, status, gateway_ref, transaction_id,
	integrity_hash, card_last4, failure_reason, settlement_status, settlement_error,
	released_at, refunded_at, created_at, updated_at`

type paymentRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewPaymentRepository(db database.PgxIface, log *zap.Logger) PaymentRepository {
	return &paymentRepository{
		db:  db,
		log: log.With(zap.String("repository", "payment")),
	}
}

func scanPayment(row pgx.Row) (*entity.Payment, error) {
	var p entity.Payment
	err := row.Scan(
		&p.ID,
		&p.Reference,
		&p.BookingID,
		&p.JourneyID,
		&p.PassengerID,
		&p.DriverID,
		&p.Amount,
		&p.PlatformFee,
		&p.DriverPayout,
		&p.Currency,
		&p.Method,
		&p.Status,
		&p.GatewayRef,
		&p.TransactionID,
		&p.IntegrityHash,
		&p.CardLast4,
		&p.FailureReason,
		&p.SettlementStatus,
		&p.SettlementError,
		&p.ReleasedAt,
		&p.RefundedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]*entity.Payment, error) {
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *paymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.Reference,
		p.BookingID,
		p.JourneyID,
		p.PassengerID,
		p.DriverID,
		p.Amount,
		p.PlatformFee,
		p.DriverPayout,
		p.Currency,
		p.Method,
		p.Status,
		p.GatewayRef,
		p.TransactionID,
		p.IntegrityHash,
		p.CardLast4,
		p.FailureReason,
		p.SettlementStatus,
		p.SettlementError,
		p.ReleasedAt,
		p.RefundedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create payment",
			zap.Error(err),
			zap.String("reference", p.Reference),
			zap.String("booking_id", p.BookingID.String()),
		)
		return fmt.Errorf("create payment %s: %w", p.Reference, err)
	}

	return nil
}

func (r *paymentRepository) findOne(ctx context.Context, where string, arg any) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where

	p, err := scanPayment(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find payment",
			zap.Error(err),
			zap.String("where", where),
			zap.Any("arg", arg),
		)
		return nil, fmt.Errorf("find payment where %s: %w", where, err)
	}

	return p, nil
}

func (r *paymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *paymentRepository) FindByReference(ctx context.Context, reference string) (*entity.Payment, error) {
	return r.findOne(ctx, "reference = $1", reference)
}

func (r *paymentRepository) FindLiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx, "booking_id = $1 AND status IN ('PENDING', 'HELD')", bookingID)
}

func (r *paymentRepository) FindByPassengerID(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, passengerID, limit, offset)
	if err != nil {
		r.log.Error("Failed to find payments by passenger ID",
			zap.Error(err),
			zap.String("passenger_id", passengerID.String()),
		)
		return nil, fmt.Errorf("find payments by passenger ID %s: %w", passengerID, err)
	}

	return collectPayments(rows)
}

func (r *paymentRepository) CountByPassengerID(ctx context.Context, passengerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE passenger_id = $1`, passengerID).Scan(&count)
	if err != nil {
		r.log.Error("Failed to count payments by passenger ID", zap.Error(err))
		return 0, fmt.Errorf("count payments by passenger ID %s: %w", passengerID, err)
	}
	return count, nil
}

func (r *paymentRepository) FindByJourneyAndStatus(ctx context.Context, journeyID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE journey_id = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, journeyID, string(status))
	if err != nil {
		r.log.Error("Failed to find payments by journey and status",
			zap.Error(err),
			zap.String("journey_id", journeyID.String()),
			zap.String("status", string(status)),
		)
		return nil, fmt.Errorf("find %s payments of journey %s: %w", status, journeyID, err)
	}

	return collectPayments(rows)
}

func (r *paymentRepository) FindByDriverAndStatus(ctx context.Context, driverID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE driver_id = $1 AND status = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, driverID, string(status))
	if err != nil {
		r.log.Error("Failed to find payments by driver and status",
			zap.Error(err),
			zap.String("driver_id", driverID.String()),
			zap.String("status", string(status)),
		)
		return nil, fmt.Errorf("find %s payments of driver %s: %w", status, driverID, err)
	}

	return collectPayments(rows)
}

func (r *paymentRepository) Transition(ctx context.Context, id uuid.UUID, from, to entity.PaymentStatus, at time.Time, reason *string) (*entity.Payment, error) {
	query := `
		UPDATE payments SET
			status         = $3,
			released_at    = CASE WHEN $3::text = 'RELEASED' THEN $4 ELSE released_at END,
			refunded_at    = CASE WHEN $3::text = 'REFUNDED' THEN $4 ELSE refunded_at END,
			failure_reason = COALESCE($5, failure_reason),
			updated_at     = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRow(ctx, query, id, string(from), string(to), at, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to transition payment",
			zap.Error(err),
			zap.String("payment_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil, fmt.Errorf("transition payment %s %s->%s: %w", id, from, to, err)
	}

	return p, nil
}

func (r *paymentRepository) AttachGatewayRefs(ctx context.Context, id uuid.UUID, gatewayRef, transactionID *string) error {
	query := `
		UPDATE payments SET
			gateway_ref    = COALESCE($2, gateway_ref),
			transaction_id = COALESCE($3, transaction_id),
			updated_at     = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, gatewayRef, transactionID)
	if err != nil {
		r.log.Error("Failed to attach gateway references",
			zap.Error(err),
			zap.String("payment_id", id.String()),
		)
		return fmt.Errorf("attach gateway refs to payment %s: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}

	return nil
}

func (r *paymentRepository) RecordSettlement(ctx context.Context, id uuid.UUID, status entity.SettlementStatus, settlementErr *string) error {
	query := `
		UPDATE payments SET
			settlement_status = $2,
			settlement_error  = $3,
			updated_at        = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, string(status), settlementErr)
	if err != nil {
		r.log.Error("Failed to record settlement",
			zap.Error(err),
			zap.String("payment_id", id.String()),
			zap.String("settlement_status", string(status)),
		)
		return fmt.Errorf("record settlement for payment %s: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}

	return nil
}

func (r *paymentRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, createdBefore, limit)
	if err != nil {
		r.log.Error("Failed to find stale pending payments", zap.Error(err))
		return nil, fmt.Errorf("find stale pending payments: %w", err)
	}

	return collectPayments(rows)
}

func (r *paymentRepository) FindSettlementFailed(ctx context.Context, limit int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE settlement_status = 'FAILED' AND status IN ('RELEASED', 'REFUNDED', 'FAILED')
		ORDER BY updated_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("Failed to find payments with failed settlement", zap.Error(err))
		return nil, fmt.Errorf("find payments with failed settlement: %w", err)
	}

	return collectPayments(rows)
}

// FindHeldOnClosedJourneys returns held funds whose journey already ended,
// left behind when a cancel or complete was interrupted midway.
func (r *paymentRepository) FindHeldOnClosedJourneys(ctx context.Context, limit int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + prefixColumns("p", paymentColumns) + `
		FROM payments p
		JOIN journeys j ON j.id = p.journey_id
		WHERE p.status = 'HELD' AND j.status IN ('CANCELLED', 'COMPLETED')
		ORDER BY p.created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("Failed to find held payments on closed journeys", zap.Error(err))
		return nil, fmt.Errorf("find held payments on closed journeys: %w", err)
	}

	return collectPayments(rows)
}
