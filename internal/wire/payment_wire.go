package wire

import (
	"net/http"

	"rideshare-escrow/internal/adaptor"
	"rideshare-escrow/pkg/middleware"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wirePayment(
	r chi.Router,
	paymentHandler *adaptor.PaymentHandler,
	auth func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	r.Route("/payments", func(r chi.Router) {
		// ==================== PUBLIC ROUTES ====================
		r.Get("/methods", paymentHandler.GetPaymentMethods)

		// POST /payments/webhook - gateway callback, authenticated by the verif-hash header
		r.Post("/webhook", paymentHandler.Webhook)

		// ==================== PROTECTED ROUTES ====================
		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.With(middleware.RequireRole(log, utils.RolePassenger)).
				Post("/initiate", paymentHandler.InitiatePayment)

			// GET /payments/{id}/status - read-only, safe to poll
			r.Get("/{id}/status", paymentHandler.GetStatus)
			r.Get("/passenger/{id}", paymentHandler.GetPassengerPayments)

			// ==================== ADMIN ROUTES ====================
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(log, utils.RoleAdmin))

				r.Post("/{id}/release", paymentHandler.Release)
				r.Post("/{id}/refund", paymentHandler.Refund)
				r.Post("/{id}/verify", paymentHandler.Reverify)
			})
		})
	})
}
