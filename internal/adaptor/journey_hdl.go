package adaptor

import (
	"net/http"

	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"go.uber.org/zap"
)

type JourneyHandler struct {
	service usecase.JourneyService
	log     *zap.Logger
}

func NewJourneyHandler(service usecase.JourneyService, log *zap.Logger) *JourneyHandler {
	return &JourneyHandler{
		service: service,
		log:     log.With(zap.String("handler", "journey")),
	}
}

// ==================== PUBLIC ====================

// SearchJourneys handles GET /journeys (public)
func (h *JourneyHandler) SearchJourneys(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &request.SearchJourneysRequest{
		PaginatedRequest: *pagination(r),
		Departure:        query.Get("departure"),
		Arrival:          query.Get("arrival"),
		Date:             query.Get("date"),
	}
	if minSeats := query.Get("min_seats"); minSeats != "" {
		req.MinSeats = utils.ParseInt(minSeats, 0)
	}

	journeys, err := h.service.SearchJourneys(r.Context(), req)
	if err != nil {
		handleServiceError(h.log, w, err, "search journeys")
		return
	}

	utils.ResponseSuccess(w, "success", journeys)
}

// GetJourney handles GET /journeys/{id} (public)
func (h *JourneyHandler) GetJourney(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	journey, err := h.service.GetJourney(r.Context(), journeyID)
	if err != nil {
		handleServiceError(h.log, w, err, "get journey")
		return
	}

	utils.ResponseSuccess(w, "success", journey)
}

// GetDriverJourneys handles GET /journeys/driver/{id} (public)
func (h *JourneyHandler) GetDriverJourneys(w http.ResponseWriter, r *http.Request) {
	driverID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	journeys, err := h.service.GetDriverJourneys(r.Context(), driverID, pagination(r))
	if err != nil {
		handleServiceError(h.log, w, err, "get driver journeys")
		return
	}

	utils.ResponseSuccess(w, "success", journeys)
}

// ==================== DRIVER ====================

// CreateJourney handles POST /journeys (driver)
func (h *JourneyHandler) CreateJourney(w http.ResponseWriter, r *http.Request) {
	driverID, _, ok := caller(w, r)
	if !ok {
		return
	}

	var req request.CreateJourneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	journey, err := h.service.CreateJourney(r.Context(), driverID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "create journey")
		return
	}

	utils.ResponseCreated(w, "Journey created", journey)
}

// EditJourney handles PUT /journeys/{id} (driver, owner only)
func (h *JourneyHandler) EditJourney(w http.ResponseWriter, r *http.Request) {
	driverID, _, ok := caller(w, r)
	if !ok {
		return
	}
	journeyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req request.UpdateJourneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	journey, err := h.service.EditJourney(r.Context(), journeyID, driverID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "edit journey")
		return
	}

	utils.ResponseSuccess(w, "Journey updated", journey)
}

// CancelJourney handles DELETE /journeys/{id} (driver, owner only)
func (h *JourneyHandler) CancelJourney(w http.ResponseWriter, r *http.Request) {
	driverID, _, ok := caller(w, r)
	if !ok {
		return
	}
	journeyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.CancelJourney(r.Context(), journeyID, driverID)
	if err != nil {
		handleServiceError(h.log, w, err, "cancel journey")
		return
	}

	utils.ResponseSuccess(w, "Journey cancelled, "+result.Summary, result)
}

// StartJourney handles POST /journeys/{id}/start (driver, owner only)
func (h *JourneyHandler) StartJourney(w http.ResponseWriter, r *http.Request) {
	driverID, _, ok := caller(w, r)
	if !ok {
		return
	}
	journeyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	journey, err := h.service.StartJourney(r.Context(), journeyID, driverID)
	if err != nil {
		handleServiceError(h.log, w, err, "start journey")
		return
	}

	utils.ResponseSuccess(w, "Journey started", journey)
}

// CompleteJourney handles POST /journeys/{id}/complete (driver, owner only)
func (h *JourneyHandler) CompleteJourney(w http.ResponseWriter, r *http.Request) {
	driverID, _, ok := caller(w, r)
	if !ok {
		return
	}
	journeyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.CompleteJourney(r.Context(), journeyID, driverID)
	if err != nil {
		handleServiceError(h.log, w, err, "complete journey")
		return
	}

	utils.ResponseSuccess(w, "Journey completed", result)
}

// PayoutSummary handles GET /journeys/payouts/{driverId} (driver self or admin)
func (h *JourneyHandler) PayoutSummary(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := caller(w, r)
	if !ok {
		return
	}
	driverID, ok := pathUUID(w, r, "driverId")
	if !ok {
		return
	}

	summary, err := h.service.PayoutSummary(r.Context(), userID, role, driverID)
	if err != nil {
		handleServiceError(h.log, w, err, "get payout summary")
		return
	}

	utils.ResponseSuccess(w, "success", summary)
}
