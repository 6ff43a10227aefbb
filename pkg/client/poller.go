package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/dto/response"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPaymentFailed means the payment reached FAILED or REFUNDED.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrConfirmationTimeout means no terminal state was seen within the attempt bound.
	// The charge may still settle later and will be picked up by reconciliation.
	ErrConfirmationTimeout = errors.New("payment confirmation timed out")
)

// StatusError is a non-retryable answer from the status endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment status: %d %s", e.Code, e.Message)
}

type PollerConfig struct {
	BaseURL  string
	Token    string
	Attempts int
	Delay    time.Duration
}

// PaymentPoller waits for a payment to leave PENDING by polling its status.
type PaymentPoller struct {
	baseURL  string
	token    string
	attempts int
	delay    time.Duration
	hc       *http.Client
	log      *zap.Logger
}

func NewPaymentPoller(config PollerConfig, hc *http.Client, log *zap.Logger) *PaymentPoller {
	if config.Attempts <= 0 {
		config.Attempts = 20
	}
	if config.Delay <= 0 {
		config.Delay = 3 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	return &PaymentPoller{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		token:    config.Token,
		attempts: config.Attempts,
		delay:    config.Delay,
		hc:       hc,
		log:      log.With(zap.String("component", "payment_poller")),
	}
}

// Await returns the payment once it is HELD or RELEASED.
// Transport errors and 5xx answers count as an attempt and are retried.
func (p *PaymentPoller) Await(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		payment, err := p.fetch(ctx, paymentID)
		switch {
		case err == nil:
			switch payment.Status {
			case entity.PaymentStatusHeld, entity.PaymentStatusReleased:
				return payment, nil
			case entity.PaymentStatusFailed, entity.PaymentStatusRefunded:
				return payment, fmt.Errorf("%w: status %s", ErrPaymentFailed, payment.Status)
			}
		case errors.As(err, new(*StatusError)):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			p.log.Warn("Payment status poll failed",
				zap.Error(err),
				zap.String("payment_id", paymentID.String()),
				zap.Int("attempt", attempt),
			)
		}

		if attempt == p.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrConfirmationTimeout, p.attempts)
}

type statusEnvelope struct {
	Status  bool                      `json:"status"`
	Message string                    `json:"message"`
	Data    *response.PaymentResponse `json:"data"`
}

func (p *PaymentPoller) fetch(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/payments/"+paymentID.String()+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request payment status: %w", err)
	}
	defer resp.Body.Close()

	var env statusEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("payment status: server answered %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode payment status: %w", decodeErr)
	}
	if env.Data == nil {
		return nil, errors.New("payment status: empty data")
	}

	return env.Data, nil
}
