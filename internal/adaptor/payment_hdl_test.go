package adaptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/dto/response"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubPayments implements only what the tests drive; anything else panics.
type stubPayments struct {
	usecase.PaymentService

	secret   string
	applied  bool
	received []*request.WebhookPayload
	statusFn func(id uuid.UUID) (*response.PaymentResponse, error)
	verifyFn func(id uuid.UUID) (*response.PaymentResponse, error)
}

func (s *stubPayments) VerifySignature(signature string) bool {
	return signature != "" && signature == s.secret
}

func (s *stubPayments) HandleWebhook(_ context.Context, payload *request.WebhookPayload) bool {
	s.received = append(s.received, payload)
	return s.applied
}

func (s *stubPayments) Status(_ context.Context, _ uuid.UUID, _ string, id uuid.UUID) (*response.PaymentResponse, error) {
	return s.statusFn(id)
}

func (s *stubPayments) Reverify(_ context.Context, id uuid.UUID) (*response.PaymentResponse, error) {
	return s.verifyFn(id)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func postWebhook(h *PaymentHandler, signature, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(WebhookSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	const body = `{"event":"charge.completed","data":{"id":42,"txRef":"RIDE-1","status":"successful","amount":3000,"currency":"XAF"}}`

	t.Run("bad signature is rejected before the body is read", func(t *testing.T) {
		svc := &stubPayments{secret: "s3cret"}
		rec := postWebhook(NewPaymentHandler(svc, zap.NewNop()), "wrong", body)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, svc.received)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		svc := &stubPayments{secret: "s3cret"}
		rec := postWebhook(NewPaymentHandler(svc, zap.NewNop()), "", body)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid signature is acknowledged", func(t *testing.T) {
		svc := &stubPayments{secret: "s3cret", applied: true}
		rec := postWebhook(NewPaymentHandler(svc, zap.NewNop()), "s3cret", body)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, svc.received, 1)
		assert.Equal(t, "RIDE-1", svc.received[0].Data.Reference())

		env := decodeEnvelope(t, rec)
		assert.Equal(t, "received", env["message"])
		assert.Equal(t, map[string]any{"applied": true}, env["data"])
	})

	t.Run("a duplicate still answers 200", func(t *testing.T) {
		svc := &stubPayments{secret: "s3cret", applied: false}
		rec := postWebhook(NewPaymentHandler(svc, zap.NewNop()), "s3cret", body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]any{"applied": false}, decodeEnvelope(t, rec)["data"])
	})

	t.Run("malformed body is ignored with 200", func(t *testing.T) {
		svc := &stubPayments{secret: "s3cret"}
		rec := postWebhook(NewPaymentHandler(svc, zap.NewNop()), "s3cret", "{not json")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeEnvelope(t, rec)["message"])
		assert.Empty(t, svc.received)
	})
}

func statusRequest(t *testing.T, h *PaymentHandler, id string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/payments/{id}/status", h.GetStatus)

	req := httptest.NewRequest(http.MethodGet, "/payments/"+id+"/status", nil)
	if authed {
		req = req.WithContext(utils.SetUserContext(req.Context(), uuid.New(), utils.RolePassenger))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	paymentID := uuid.New()

	t.Run("returns the payment", func(t *testing.T) {
		svc := &stubPayments{statusFn: func(id uuid.UUID) (*response.PaymentResponse, error) {
			return &response.PaymentResponse{ID: id.String(), Status: "HELD"}, nil
		}}
		rec := statusRequest(t, NewPaymentHandler(svc, zap.NewNop()), paymentID.String(), true)

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, paymentID.String(), data["id"])
		assert.Equal(t, "HELD", data["status"])
	})

	t.Run("requires authentication", func(t *testing.T) {
		rec := statusRequest(t, NewPaymentHandler(&stubPayments{}, zap.NewNop()), paymentID.String(), false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects a malformed id", func(t *testing.T) {
		rec := statusRequest(t, NewPaymentHandler(&stubPayments{}, zap.NewNop()), "not-a-uuid", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReverify(t *testing.T) {
	reverify := func(h *PaymentHandler, id string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Post("/payments/{id}/verify", h.Reverify)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/"+id+"/verify", nil))
		return rec
	}

	t.Run("returns the re-verified payment", func(t *testing.T) {
		svc := &stubPayments{verifyFn: func(id uuid.UUID) (*response.PaymentResponse, error) {
			return &response.PaymentResponse{ID: id.String(), Status: "HELD"}, nil
		}}
		rec := reverify(NewPaymentHandler(svc, zap.NewNop()), uuid.NewString())

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "HELD", decodeEnvelope(t, rec)["data"].(map[string]any)["status"])
	})

	t.Run("gateway outage answers 502", func(t *testing.T) {
		svc := &stubPayments{verifyFn: func(uuid.UUID) (*response.PaymentResponse, error) {
			return nil, fmt.Errorf("%w: verify RSP-1: connection reset", usecase.ErrGateway)
		}}
		rec := reverify(NewPaymentHandler(svc, zap.NewNop()), uuid.NewString())

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "Payment provider unavailable, try again later", decodeEnvelope(t, rec)["message"])
	})
}

func TestHandleServiceError(t *testing.T) {
	cases := []struct {
		err     error
		code    int
		message string
	}{
		{fmt.Errorf("%w: seats must be positive", usecase.ErrValidation), http.StatusBadRequest, "validation failed: seats must be positive"},
		{fmt.Errorf("%w: not your journey", usecase.ErrUnauthorized), http.StatusForbidden, "not allowed: not your journey"},
		{fmt.Errorf("%w: journey", usecase.ErrNotFound), http.StatusNotFound, "not found: journey"},
		{fmt.Errorf("%w: not enough seats", usecase.ErrStateConflict), http.StatusConflict, "state conflict: not enough seats"},
		{fmt.Errorf("%w: timeout", usecase.ErrGateway), http.StatusBadGateway, "Payment provider unavailable, try again later"},
		{fmt.Errorf("%w: hash mismatch", usecase.ErrIntegrity), http.StatusConflict, "Payment record failed its integrity check"},
		{errors.New("connection reset"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(zap.NewNop(), rec, tc.err, "test")

			assert.Equal(t, tc.code, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, false, env["status"])
			assert.Equal(t, tc.message, env["message"])
		})
	}
}
