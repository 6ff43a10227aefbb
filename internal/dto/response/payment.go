package response

import (
	"time"

	"rideshare-escrow/internal/data/entity"
)

// PaymentResponse never carries card data beyond the last four digits.
type PaymentResponse struct {
	ID               string                  `json:"id"`
	Reference        string                  `json:"reference"`
	BookingID        string                  `json:"booking_id"`
	JourneyID        string                  `json:"journey_id"`
	PassengerID      string                  `json:"passenger_id"`
	DriverID         string                  `json:"driver_id"`
	Amount           int64                   `json:"amount"`
	PlatformFee      int64                   `json:"platform_fee"`
	DriverPayout     int64                   `json:"driver_payout"`
	Currency         string                  `json:"currency"`
	Method           entity.PaymentMethod    `json:"payment_method"`
	Status           entity.PaymentStatus    `json:"status"`
	GatewayRef       *string                 `json:"gateway_ref,omitempty"`
	TransactionID    *string                 `json:"transaction_id,omitempty"`
	CardLast4        *string                 `json:"card_last4,omitempty"`
	FailureReason    *string                 `json:"failure_reason,omitempty"`
	SettlementStatus entity.SettlementStatus `json:"settlement_status"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	ReleasedAt       *time.Time              `json:"released_at,omitempty"`
	RefundedAt       *time.Time              `json:"refunded_at,omitempty"`
}

// InitiatePaymentResponse is the business outcome of a charge attempt.
// Success is false when the gateway refused the charge.
type InitiatePaymentResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Payment     *PaymentResponse `json:"payment,omitempty"`
	RedirectURL string           `json:"redirect_url,omitempty"`
}

type PaymentMethodResponse struct {
	Method      entity.PaymentMethod `json:"method"`
	MobileMoney bool                 `json:"mobile_money"`
}

func PaymentToResponse(p *entity.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID.String(),
		Reference:        p.Reference,
		BookingID:        p.BookingID.String(),
		JourneyID:        p.JourneyID.String(),
		PassengerID:      p.PassengerID.String(),
		DriverID:         p.DriverID.String(),
		Amount:           p.Amount,
		PlatformFee:      p.PlatformFee,
		DriverPayout:     p.DriverPayout,
		Currency:         p.Currency,
		Method:           p.Method,
		Status:           p.Status,
		GatewayRef:       p.GatewayRef,
		TransactionID:    p.TransactionID,
		CardLast4:        p.CardLast4,
		FailureReason:    p.FailureReason,
		SettlementStatus: p.SettlementStatus,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		ReleasedAt:       p.ReleasedAt,
		RefundedAt:       p.RefundedAt,
	}
}
