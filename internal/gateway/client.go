package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rideshare-escrow/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ClientConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client is the HTTP binding of Gateway. The provider wraps every reply in
// {status, message, data}; anything but status "success" is ErrDeclined.
type Client struct {
	baseURL   string
	secretKey string
	hc        *http.Client
	log       *zap.Logger
}

var _ Gateway = (*Client)(nil)

func NewClient(config ClientConfig, log *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		secretKey: config.SecretKey,
		hc:        &http.Client{Timeout: timeout},
		log:       log.With(zap.String("component", "gateway")),
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(operation, started, err) }()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", operation, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http do: %w", operation, err)
	}
	defer resp.Body.Close()

	var reply envelope
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("%s: decode reply (http %d): %w", operation, resp.StatusCode, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || reply.Status != "success" {
		c.log.Warn("Gateway rejected request",
			zap.String("operation", operation),
			zap.Int("http_status", resp.StatusCode),
			zap.String("gateway_message", reply.Message),
		)
		return fmt.Errorf("%s: %w: %s", operation, ErrDeclined, reply.Message)
	}

	if out != nil && len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", operation, err)
		}
	}

	return nil
}

type chargeData struct {
	ID        json.Number `json:"id"`
	TxRef     string      `json:"tx_ref"`
	FlwRef    string      `json:"flw_ref"`
	Status    string      `json:"status"`
	Redirect  string      `json:"redirect"`
	AuthModel string      `json:"auth_model"`
}

func (c *Client) Charge(ctx context.Context, chargeType string, payload map[string]any) (*ChargeResult, error) {
	var data chargeData
	path := "/v3/charges?type=" + url.QueryEscape(chargeType)
	if err := c.do(ctx, "charge", http.MethodPost, path, payload, &data); err != nil {
		return nil, err
	}

	return &ChargeResult{
		GatewayRef:    data.FlwRef,
		TransactionID: data.ID.String(),
		Status:        data.Status,
		RedirectURL:   data.Redirect,
	}, nil
}

type verifyData struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

func (c *Client) Verify(ctx context.Context, transactionID string) (*Verification, error) {
	var data verifyData
	path := "/v3/transactions/" + url.PathEscape(transactionID) + "/verify"
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.verification("verify")
}

func (c *Client) VerifyByReference(ctx context.Context, reference string) (*Verification, error) {
	var data verifyData
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if err := c.do(ctx, "verify_by_reference", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.verification("verify_by_reference")
}

func (d verifyData) verification(operation string) (*Verification, error) {
	amount, err := wholeAmount(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	return &Verification{
		TransactionID: d.ID.String(),
		Reference:     d.TxRef,
		Status:        d.Status,
		Amount:        amount,
		Currency:      d.Currency,
	}, nil
}

type settlementData struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

func (c *Client) Refund(ctx context.Context, transactionID string, amount int64) (*SettlementResult, error) {
	var data settlementData
	path := "/v3/transactions/" + url.PathEscape(transactionID) + "/refund"
	if err := c.do(ctx, "refund", http.MethodPost, path, map[string]any{"amount": amount}, &data); err != nil {
		return nil, err
	}
	return &SettlementResult{ID: data.ID.String(), Status: data.Status}, nil
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*SettlementResult, error) {
	body := map[string]any{
		"reference":        req.Reference,
		"amount":           req.Amount,
		"currency":         req.Currency,
		"beneficiary_name": req.Beneficiary,
		"narration":        req.Narration,
	}

	var data settlementData
	if err := c.do(ctx, "transfer", http.MethodPost, "/v3/transfers", body, &data); err != nil {
		return nil, err
	}
	return &SettlementResult{ID: data.ID.String(), Status: data.Status}, nil
}

// wholeAmount accepts "3000" or "3000.00"; the currency has no minor unit,
// so "3000.50" is an error rather than 3000.
func wholeAmount(n json.Number) (int64, error) {
	s := n.String()
	if s == "" {
		return 0, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %q is not a whole number", s)
	}
	return d.IntPart(), nil
}
