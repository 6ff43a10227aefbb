package entity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodMobileMoneyA PaymentMethod = "MOBILE_MONEY_A"
	PaymentMethodMobileMoneyB PaymentMethod = "MOBILE_MONEY_B"
	PaymentMethodCard         PaymentMethod = "CARD"
)

func (m PaymentMethod) IsMobileMoney() bool {
	return m == PaymentMethodMobileMoneyA || m == PaymentMethodMobileMoneyB
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusHeld     PaymentStatus = "HELD"
	PaymentStatusReleased PaymentStatus = "RELEASED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusHeld, PaymentStatusFailed},
	PaymentStatusHeld:    {PaymentStatusReleased, PaymentStatusRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// IsLive is true while the payment still reserves a booking's money.
func (s PaymentStatus) IsLive() bool {
	return s == PaymentStatusPending || s == PaymentStatusHeld
}

// SettlementStatus tracks the funds movement that follows release or refund.
type SettlementStatus string

const (
	SettlementStatusNone   SettlementStatus = "NONE"
	SettlementStatusDone   SettlementStatus = "DONE"
	SettlementStatusFailed SettlementStatus = "FAILED"
)

// Payment is the escrow record for one booking. PlatformFee + DriverPayout
// always equals Amount.
type Payment struct {
	Base
	Reference        string           `db:"reference"`
	BookingID        uuid.UUID        `db:"booking_id"`
	JourneyID        uuid.UUID        `db:"journey_id"`
	PassengerID      uuid.UUID        `db:"passenger_id"`
	DriverID         uuid.UUID        `db:"driver_id"`
	Amount           int64            `db:"amount"`
	PlatformFee      int64            `db:"platform_fee"`
	DriverPayout     int64            `db:"driver_payout"`
	Currency         string           `db:"currency"`
	Method           PaymentMethod    `db:"payment_method"`
	Status           PaymentStatus    `db:"status"`
	GatewayRef       *string          `db:"gateway_ref"`
	TransactionID    *string          `db:"transaction_id"`
	IntegrityHash    string           `db:"integrity_hash"`
	CardLast4        *string          `db:"card_last4"`
	FailureReason    *string          `db:"failure_reason"`
	SettlementStatus SettlementStatus `db:"settlement_status"`
	SettlementError  *string          `db:"settlement_error"`
	ReleasedAt       *time.Time       `db:"released_at"`
	RefundedAt       *time.Time       `db:"refunded_at"`
}

// SplitFee computes the platform fee as floor(amount * rate) and gives the
// rest to the driver. Floor is the only rounding rule used for fees.
func SplitFee(amount int64, rate decimal.Decimal) (platformFee, driverPayout int64) {
	platformFee = decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
	return platformFee, amount - platformFee
}

// IntegrityHash is HMAC-SHA256 over reference|amount|passengerId|createdAt(unix micros).
func IntegrityHash(secret, reference string, amount int64, passengerID uuid.UUID, createdAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%d|%s|%d", reference, amount, passengerID, createdAt.UnixMicro())
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Payment) Sign(secret string) {
	p.IntegrityHash = IntegrityHash(secret, p.Reference, p.Amount, p.PassengerID, p.CreatedAt)
}

// VerifyIntegrity detects tampering with the signed fields of a stored payment.
func (p *Payment) VerifyIntegrity(secret string) bool {
	expected := IntegrityHash(secret, p.Reference, p.Amount, p.PassengerID, p.CreatedAt)
	return hmac.Equal([]byte(expected), []byte(p.IntegrityHash))
}

// PayoutSummary aggregates a driver's escrow position.
type PayoutSummary struct {
	DriverID      uuid.UUID
	TotalEarned   int64
	PendingEscrow int64
	TripCount     int
	Payouts       []*Payment
}
