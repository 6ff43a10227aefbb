package request

import (
	"encoding/json"
)

type CardDetails struct {
	Number      string `json:"number" validate:"required,numeric,min=12,max=19"`
	CVV         string `json:"cvv" validate:"required,numeric,min=3,max=4"`
	ExpiryMonth string `json:"expiry_month" validate:"required,numeric,len=2"`
	ExpiryYear  string `json:"expiry_year" validate:"required,numeric"`
}

// InitiatePaymentRequest pays for a booking. Mobile money methods need a
// phone number, CARD needs card details.
type InitiatePaymentRequest struct {
	BookingID string       `json:"booking_id" validate:"required,uuid"`
	Amount    int64        `json:"amount" validate:"required,min=1"`
	Method    string       `json:"payment_method" validate:"required,oneof=MOBILE_MONEY_A MOBILE_MONEY_B CARD"`
	Email     string       `json:"email" validate:"omitempty,email"`
	FullName  string       `json:"full_name" validate:"max=120"`
	Phone     string       `json:"phone" validate:"required_unless=Method CARD,max=20"`
	Network   string       `json:"network,omitempty" validate:"max=20"`
	Card      *CardDetails `json:"card,omitempty" validate:"required_if=Method CARD"`
}

// WebhookPayload is the gateway callback: {event, data:{id, txRef, status, ...}}.
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"txRef"`
	TxRefV3  string      `json:"tx_ref"`
	FlwRef   string      `json:"flwRef"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// Reference returns the merchant reference whichever key the gateway used.
func (d WebhookData) Reference() string {
	if d.TxRef != "" {
		return d.TxRef
	}
	return d.TxRefV3
}
