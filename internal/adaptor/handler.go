package adaptor

import (
	"encoding/json"
	"errors"
	"net/http"

	"rideshare-escrow/internal/chat"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	Journey *JourneyHandler
	Booking *BookingHandler
	Payment *PaymentHandler
	Chat    *ChatHandler
}

func NewHandler(service *usecase.Service, hub *chat.Hub, log *zap.Logger) *Handler {
	return &Handler{
		Journey: NewJourneyHandler(service.Journey, log),
		Booking: NewBookingHandler(service.Booking, log),
		Payment: NewPaymentHandler(service.Payment, log),
		Chat:    NewChatHandler(service.Chat, hub, log),
	}
}

// handleServiceError maps the usecase error kinds to HTTP statuses. Anything
// unclassified is logged and answered with a generic 500.
func handleServiceError(log *zap.Logger, w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		log.Warn(operation+" validation failed", zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, usecase.ErrUnauthorized):
		log.Warn(operation+" failed - not allowed", zap.Error(err))
		utils.ResponseForbidden(w, err.Error())

	case errors.Is(err, usecase.ErrNotFound):
		log.Warn(operation+" failed - not found", zap.Error(err))
		utils.ResponseNotFound(w, err.Error())

	case errors.Is(err, usecase.ErrStateConflict):
		log.Warn(operation+" failed - state conflict", zap.Error(err))
		utils.ResponseConflict(w, err.Error())

	case errors.Is(err, usecase.ErrGateway):
		log.Error(operation+" failed - gateway", zap.Error(err))
		utils.ResponseBadGateway(w, "Payment provider unavailable, try again later")

	case errors.Is(err, usecase.ErrIntegrity):
		log.Error(operation+" failed - integrity", zap.Error(err))
		utils.ResponseConflict(w, "Payment record failed its integrity check")

	default:
		log.Error("Failed to "+operation, zap.Error(err))
		utils.ResponseInternalError(w, "Internal server error")
	}
}

// caller returns the authenticated user, answering 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
		return uuid.Nil, "", false
	}
	role, _ := utils.GetRoleFromContext(r.Context())
	return userID, role, true
}

// pathUUID parses a URL parameter, answering 400 when it is not a UUID.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		utils.ResponseBadRequest(w, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return false
	}
	return true
}

// pagination reads page and per_page with the usual defaults.
func pagination(r *http.Request) *request.PaginatedRequest {
	query := r.URL.Query()
	return &request.PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), 10),
	}
}
