package wire

import (
	"net/http"

	"rideshare-escrow/internal/adaptor"
	"rideshare-escrow/pkg/middleware"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireBooking(
	r chi.Router,
	bookingHandler *adaptor.BookingHandler,
	auth func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	// ==================== PROTECTED ROUTES (require auth) ====================
	r.Route("/bookings", func(r chi.Router) {
		r.Use(auth)

		// GET /bookings/{id} - passenger, driver of the journey, or admin
		r.Get("/{id}", bookingHandler.GetBooking)

		// GET /bookings/passenger/{id} - booking history (self or admin)
		r.Get("/passenger/{id}", bookingHandler.GetPassengerBookings)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(log, utils.RolePassenger))

			// POST /bookings - reserve seats on a journey
			r.Post("/", bookingHandler.CreateBooking)

			// DELETE /bookings/{id} - cancel, refunding a held payment
			r.Delete("/{id}", bookingHandler.CancelBooking)
		})
	})
}
