package adaptor

import (
	"net/http"

	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// CreateBooking handles POST /bookings (protected)
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	passengerID, _, ok := caller(w, r)
	if !ok {
		return
	}

	var req request.CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Validate request
	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	booking, err := h.service.CreateBooking(r.Context(), passengerID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "create booking")
		return
	}

	utils.ResponseCreated(w, "Seats reserved, awaiting payment", booking)
}

// GetBooking handles GET /bookings/{id} (passenger, driver or admin)
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	booking, err := h.service.GetBooking(r.Context(), userID, role, bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "get booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// GetPassengerBookings handles GET /bookings/passenger/{id} (self or admin)
func (h *BookingHandler) GetPassengerBookings(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	passengerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	bookings, err := h.service.GetPassengerBookings(r.Context(), userID, role, passengerID, pagination(r))
	if err != nil {
		handleServiceError(h.log, w, err, "get passenger bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// CancelBooking handles DELETE /bookings/{id} (owner only)
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	passengerID, _, ok := caller(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.CancelBooking(r.Context(), bookingID, passengerID)
	if err != nil {
		handleServiceError(h.log, w, err, "cancel booking")
		return
	}

	message := "Booking cancelled"
	if result.Refunded {
		message = "Booking cancelled and payment refunded"
	}
	utils.ResponseSuccess(w, message, result)
}
