package wire

import (
	"net/http"

	"rideshare-escrow/internal/adaptor"
	"rideshare-escrow/pkg/middleware"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireJourney(
	r chi.Router,
	journeyHandler *adaptor.JourneyHandler,
	auth func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	r.Route("/journeys", func(r chi.Router) {
		// ==================== PUBLIC ROUTES ====================
		r.Get("/", journeyHandler.SearchJourneys)
		r.Get("/{id}", journeyHandler.GetJourney)
		r.Get("/driver/{id}", journeyHandler.GetDriverJourneys)

		// ==================== PROTECTED ROUTES ====================
		r.Group(func(r chi.Router) {
			r.Use(auth)

			// GET /journeys/payouts/{driverId} - driver's own earnings, or any driver for admins
			r.Get("/payouts/{driverId}", journeyHandler.PayoutSummary)

			// Driver-only lifecycle; ownership is checked per journey
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(log, utils.RoleDriver))

				r.Post("/", journeyHandler.CreateJourney)
				r.Put("/{id}", journeyHandler.EditJourney)
				r.Delete("/{id}", journeyHandler.CancelJourney)
				r.Post("/{id}/start", journeyHandler.StartJourney)
				r.Post("/{id}/complete", journeyHandler.CompleteJourney)
			})
		})
	})
}
