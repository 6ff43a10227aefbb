package adaptor

import (
	"encoding/json"
	"io"
	"net/http"

	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"go.uber.org/zap"
)

// WebhookSignatureHeader carries the shared secret configured at the gateway.
const WebhookSignatureHeader = "verif-hash"

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	service usecase.PaymentService
	log     *zap.Logger
}

func NewPaymentHandler(service usecase.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		log:     log.With(zap.String("handler", "payment")),
	}
}

// InitiatePayment handles POST /payments/initiate (protected)
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	passengerID, _, ok := caller(w, r)
	if !ok {
		return
	}

	var req request.InitiatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	result, err := h.service.Initiate(r.Context(), passengerID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "initiate payment")
		return
	}

	// a declined charge is a handled outcome, not a transport error
	utils.ResponseOutcome(w, result.Success, result.Message, result)
}

// GetStatus handles GET /payments/{id}/status (protected). Read-only.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.service.Status(r.Context(), userID, role, paymentID)
	if err != nil {
		handleServiceError(h.log, w, err, "get payment status")
		return
	}

	utils.ResponseSuccess(w, "success", payment)
}

// GetPassengerPayments handles GET /payments/passenger/{id} (self or admin)
func (h *PaymentHandler) GetPassengerPayments(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	passengerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payments, err := h.service.GetPassengerPayments(r.Context(), userID, role, passengerID, pagination(r))
	if err != nil {
		handleServiceError(h.log, w, err, "get passenger payments")
		return
	}

	utils.ResponseSuccess(w, "success", payments)
}

// GetPaymentMethods handles GET /payments/methods (public)
func (h *PaymentHandler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	utils.ResponseSuccess(w, "success", h.service.GetPaymentMethods(r.Context()))
}

// Webhook handles POST /payments/webhook (gateway). Once the signature
// matches it always answers 200 so the gateway stops retrying; processing
// problems are logged and picked up by the reconciler.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.service.VerifySignature(r.Header.Get(WebhookSignatureHeader)) {
		h.log.Warn("Webhook rejected, bad signature", zap.String("ip", r.RemoteAddr))
		utils.ResponseUnauthorized(w, "Invalid signature")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn("Failed to read webhook body", zap.Error(err))
		utils.ResponseSuccess(w, "ignored", nil)
		return
	}

	var payload request.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("Malformed webhook payload", zap.Error(err), zap.ByteString("body", body))
		utils.ResponseSuccess(w, "ignored", nil)
		return
	}

	applied := h.service.HandleWebhook(r.Context(), &payload)
	utils.ResponseSuccess(w, "received", map[string]bool{"applied": applied})
}

// ==================== ADMIN ====================

// Release handles POST /payments/{id}/release (admin only)
func (h *PaymentHandler) Release(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.service.Release(r.Context(), paymentID)
	if err != nil {
		handleServiceError(h.log, w, err, "release payment")
		return
	}

	utils.ResponseSuccess(w, "Payment released to driver", payment)
}

// Reverify handles POST /payments/{id}/verify (admin only)
func (h *PaymentHandler) Reverify(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.service.Reverify(r.Context(), paymentID)
	if err != nil {
		handleServiceError(h.log, w, err, "reverify payment")
		return
	}

	utils.ResponseSuccess(w, "Payment re-verified", payment)
}

// Refund handles POST /payments/{id}/refund (admin only)
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.service.Refund(r.Context(), paymentID)
	if err != nil {
		handleServiceError(h.log, w, err, "refund payment")
		return
	}

	utils.ResponseSuccess(w, "Payment refunded to passenger", payment)
}
