package gateway

import (
	"context"
	"fmt"
	"strings"

	"rideshare-escrow/internal/data/entity"
)

// mobileMoneyAdapter sends a push charge to the payer's phone.
type mobileMoneyAdapter struct {
	method     entity.PaymentMethod
	network    string
	chargeType string
	gw         Gateway
}

func NewMobileMoneyAdapter(method entity.PaymentMethod, network string, gw Gateway) ChargeAdapter {
	return &mobileMoneyAdapter{
		method:     method,
		network:    network,
		chargeType: "mobile_money_franco",
		gw:         gw,
	}
}

func (a *mobileMoneyAdapter) Method() entity.PaymentMethod { return a.method }

func (a *mobileMoneyAdapter) Validate(req ChargeRequest) error {
	if strings.TrimSpace(req.Phone) == "" {
		return fmt.Errorf("%w: phone number is required for %s", ErrInvalidCharge, a.method)
	}
	if req.Card != nil {
		return fmt.Errorf("%w: card details are not accepted for %s", ErrInvalidCharge, a.method)
	}
	return nil
}

func (a *mobileMoneyAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	network := req.Network
	if network == "" {
		network = a.network
	}

	return a.gw.Charge(ctx, a.chargeType, map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"email":        req.Email,
		"fullname":     req.FullName,
		"phone_number": req.Phone,
		"network":      network,
	})
}

type cardAdapter struct {
	gw Gateway
}

func NewCardAdapter(gw Gateway) ChargeAdapter {
	return &cardAdapter{gw: gw}
}

func (a *cardAdapter) Method() entity.PaymentMethod { return entity.PaymentMethodCard }

func (a *cardAdapter) Validate(req ChargeRequest) error {
	if req.Card == nil {
		return fmt.Errorf("%w: card details are required", ErrInvalidCharge)
	}
	digits := strings.ReplaceAll(req.Card.Number, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("%w: card number must have 12 to 19 digits", ErrInvalidCharge)
	}
	if len(req.Card.CVV) < 3 || len(req.Card.CVV) > 4 {
		return fmt.Errorf("%w: invalid CVV", ErrInvalidCharge)
	}
	return nil
}

func (a *cardAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return a.gw.Charge(ctx, "card", map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"email":        req.Email,
		"fullname":     req.FullName,
		"card_number":  strings.ReplaceAll(req.Card.Number, " ", ""),
		"cvv":          req.Card.CVV,
		"expiry_month": req.Card.ExpiryMonth,
		"expiry_year":  req.Card.ExpiryYear,
	})
}

// Registry resolves the adapter for a payment method.
type Registry struct {
	adapters map[entity.PaymentMethod]ChargeAdapter
}

func NewRegistry(adapters ...ChargeAdapter) *Registry {
	r := &Registry{adapters: make(map[entity.PaymentMethod]ChargeAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

// NewDefaultRegistry registers the two mobile money operators and cards.
func NewDefaultRegistry(gw Gateway) *Registry {
	return NewRegistry(
		NewMobileMoneyAdapter(entity.PaymentMethodMobileMoneyA, "MTN", gw),
		NewMobileMoneyAdapter(entity.PaymentMethodMobileMoneyB, "ORANGE", gw),
		NewCardAdapter(gw),
	)
}

func (r *Registry) Adapter(method entity.PaymentMethod) (ChargeAdapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return a, nil
}

func (r *Registry) Methods() []entity.PaymentMethod {
	methods := make([]entity.PaymentMethod, 0, len(r.adapters))
	for m := range r.adapters {
		methods = append(methods, m)
	}
	return methods
}
