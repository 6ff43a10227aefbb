// Package gateway talks to the external payment provider.
//
// Client wraps the provider's HTTP API (charge, verify, refund, transfer).
// A ChargeAdapter shapes a charge for one payment method, and Registry picks
// the adapter for a payment at runtime.
package gateway

import (
	"context"
	"errors"
	"strings"

	"rideshare-escrow/internal/data/entity"
)

var (
	// ErrDeclined means the provider answered but refused the operation.
	ErrDeclined = errors.New("gateway declined the request")
	// ErrUnsupportedMethod is returned by Registry for a method with no adapter.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrInvalidCharge means the charge is missing data its method requires.
	ErrInvalidCharge = errors.New("invalid charge request")
)

// Card details are only forwarded to the provider and never persisted.
type Card struct {
	Number      string
	CVV         string
	ExpiryMonth string
	ExpiryYear  string
}

// ChargeRequest is what the engine asks an adapter to collect.
type ChargeRequest struct {
	Reference string
	Amount    int64
	Currency  string
	Email     string
	FullName  string
	Phone     string
	Network   string
	Card      *Card
}

type ChargeResult struct {
	GatewayRef    string
	TransactionID string
	Status        string
	RedirectURL   string
}

// Verification is the provider's authoritative view of a transaction.
type Verification struct {
	TransactionID string
	Reference     string
	Status        string
	Amount        int64
	Currency      string
}

func (v *Verification) Successful() bool {
	return strings.EqualFold(v.Status, "successful")
}

type TransferRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Beneficiary string
	Narration   string
}

type SettlementResult struct {
	ID     string
	Status string
}

// Gateway is the provider API the escrow engine depends on.
type Gateway interface {
	Charge(ctx context.Context, chargeType string, payload map[string]any) (*ChargeResult, error)
	Verify(ctx context.Context, transactionID string) (*Verification, error)
	// VerifyByReference is for charges whose transaction id never reached us.
	VerifyByReference(ctx context.Context, reference string) (*Verification, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*SettlementResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*SettlementResult, error)
}

// ChargeAdapter collects a payment for one method.
type ChargeAdapter interface {
	Method() entity.PaymentMethod
	Validate(req ChargeRequest) error
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
