package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/dto/response"
	"rideshare-escrow/internal/notify"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type JourneyService interface {
	// Public
	SearchJourneys(ctx context.Context, req *request.SearchJourneysRequest) (*response.PaginatedResponse[response.JourneyResponse], error)
	GetJourney(ctx context.Context, journeyID uuid.UUID) (*response.JourneyResponse, error)
	GetDriverJourneys(ctx context.Context, driverID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.JourneyResponse], error)

	// Driver
	CreateJourney(ctx context.Context, driverID uuid.UUID, req *request.CreateJourneyRequest) (*response.JourneyResponse, error)
	EditJourney(ctx context.Context, journeyID, driverID uuid.UUID, req *request.UpdateJourneyRequest) (*response.JourneyResponse, error)
	CancelJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyCancelResponse, error)
	StartJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyResponse, error)
	CompleteJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyCompleteResponse, error)
	PayoutSummary(ctx context.Context, requesterID uuid.UUID, role string, driverID uuid.UUID) (*response.PayoutSummaryResponse, error)
}

type journeyService struct {
	repo     *repository.Repository
	payments *paymentService
	notifier notify.Sink
	log      *zap.Logger
}

func NewJourneyService(repo *repository.Repository, payments *paymentService, notifier notify.Sink, log *zap.Logger) JourneyService {
	return &journeyService{
		repo:     repo,
		payments: payments,
		notifier: notifier,
		log:      log.With(zap.String("service", "journey")),
	}
}

// ==================== Queries ====================

func (s *journeyService) SearchJourneys(ctx context.Context, req *request.SearchJourneysRequest) (*response.PaginatedResponse[response.JourneyResponse], error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	filter := entity.JourneyFilter{
		Departure: strings.TrimSpace(req.Departure),
		Arrival:   strings.TrimSpace(req.Arrival),
		MinSeats:  req.MinSeats,
	}
	if req.Date != "" {
		date, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", ErrValidation, req.Date)
		}
		filter.Date = &date
	}

	journeys, err := s.repo.Journey.Search(ctx, filter, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("search journeys: %w", err)
	}

	total, err := s.repo.Journey.CountSearch(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count journeys: %w", err)
	}

	return response.NewPaginatedResponse(journeysToResponse(journeys), req.CurrentPage(), req.Limit(), total), nil
}

func (s *journeyService) GetJourney(ctx context.Context, journeyID uuid.UUID) (*response.JourneyResponse, error) {
	journey, err := s.find(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	resp := response.JourneyToResponse(journey)
	return &resp, nil
}

func (s *journeyService) GetDriverJourneys(ctx context.Context, driverID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.JourneyResponse], error) {
	journeys, err := s.repo.Journey.FindByDriverID(ctx, driverID, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list driver journeys: %w", err)
	}

	total, err := s.repo.Journey.CountByDriverID(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("count driver journeys: %w", err)
	}

	return response.NewPaginatedResponse(journeysToResponse(journeys), req.CurrentPage(), req.Limit(), total), nil
}

func journeysToResponse(journeys []*entity.Journey) []response.JourneyResponse {
	out := make([]response.JourneyResponse, 0, len(journeys))
	for _, j := range journeys {
		out = append(out, response.JourneyToResponse(j))
	}
	return out
}

// ==================== Driver operations ====================

func (s *journeyService) CreateJourney(ctx context.Context, driverID uuid.UUID, req *request.CreateJourneyRequest) (*response.JourneyResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Create journey validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	departure, arrival := strings.TrimSpace(req.Departure), strings.TrimSpace(req.Arrival)
	if strings.EqualFold(departure, arrival) {
		return nil, fmt.Errorf("%w: departure and arrival must differ", ErrValidation)
	}
	if !req.DepartureAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: departure time must be in the future", ErrValidation)
	}

	journey := &entity.Journey{
		Base:           entity.NewBase(now()),
		DriverID:       driverID,
		Departure:      departure,
		Arrival:        arrival,
		DepartureAt:    req.DepartureAt.UTC().Truncate(time.Microsecond),
		TotalSeats:     req.TotalSeats,
		AvailableSeats: req.TotalSeats,
		PricePerSeat:   req.PricePerSeat,
		Status:         entity.JourneyStatusScheduled,
	}

	if err := s.repo.Journey.Create(ctx, journey); err != nil {
		return nil, fmt.Errorf("create journey: %w", err)
	}

	s.log.Info("Journey created",
		zap.String("journey_id", journey.ID.String()),
		zap.String("driver_id", driverID.String()),
	)

	resp := response.JourneyToResponse(journey)
	return &resp, nil
}

func (s *journeyService) EditJourney(ctx context.Context, journeyID, driverID uuid.UUID, req *request.UpdateJourneyRequest) (*response.JourneyResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	patch := req.Patch()
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	journey, err := s.loadOwned(ctx, journeyID, driverID)
	if err != nil {
		return nil, err
	}
	if journey.Status != entity.JourneyStatusScheduled {
		return nil, fmt.Errorf("%w: journey is %s, only SCHEDULED journeys can be edited", ErrStateConflict, journey.Status)
	}

	if patch.Departure != nil {
		trimmed := strings.TrimSpace(*patch.Departure)
		patch.Departure = &trimmed
	}
	if patch.Arrival != nil {
		trimmed := strings.TrimSpace(*patch.Arrival)
		patch.Arrival = &trimmed
	}
	departure, arrival := journey.Departure, journey.Arrival
	if patch.Departure != nil {
		departure = *patch.Departure
	}
	if patch.Arrival != nil {
		arrival = *patch.Arrival
	}
	if strings.EqualFold(departure, arrival) {
		return nil, fmt.Errorf("%w: departure and arrival must differ", ErrValidation)
	}
	if patch.DepartureAt != nil {
		if !patch.DepartureAt.After(time.Now()) {
			return nil, fmt.Errorf("%w: departure time must be in the future", ErrValidation)
		}
		at := patch.DepartureAt.UTC().Truncate(time.Microsecond)
		patch.DepartureAt = &at
	}

	updated, err := s.repo.Journey.ApplyPatch(ctx, journeyID, driverID, patch, now())
	if err != nil {
		return nil, fmt.Errorf("update journey: %w", err)
	}
	if updated == nil {
		// guard missed: reload to tell the caller why
		latest, err := s.find(ctx, journeyID)
		if err != nil {
			return nil, err
		}
		if latest.Status != entity.JourneyStatusScheduled {
			return nil, fmt.Errorf("%w: journey is %s, only SCHEDULED journeys can be edited", ErrStateConflict, latest.Status)
		}
		if patch.TotalSeats != nil && *patch.TotalSeats < latest.BookedSeats() {
			return nil, fmt.Errorf("%w: %d seats are already booked", ErrValidation, latest.BookedSeats())
		}
		return nil, fmt.Errorf("%w: journey changed concurrently, retry", ErrStateConflict)
	}

	resp := response.JourneyToResponse(updated)
	return &resp, nil
}

// CancelJourney refunds every HELD payment after the journey is cancelled.
// Failed refunds are counted, not fatal.
func (s *journeyService) CancelJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyCancelResponse, error) {
	journey, err := s.transition(ctx, journeyID, driverID, entity.JourneyStatusScheduled, entity.JourneyStatusCancelled)
	if err != nil {
		return nil, err
	}

	passengers := s.openPassengers(ctx, journeyID)

	held, err := s.repo.Payment.FindByJourneyAndStatus(ctx, journeyID, entity.PaymentStatusHeld)
	if err != nil {
		s.log.Error("Failed to list held payments", zap.Error(err), zap.String("journey_id", journeyID.String()))
		held = nil
	}

	refunded := 0
	for _, p := range held {
		if _, err := s.payments.refund(ctx, p.ID); err != nil {
			s.log.Warn("Refund failed during cancellation",
				zap.Error(err),
				zap.String("payment_id", p.ID.String()),
			)
			continue
		}
		refunded++
	}

	if _, err := s.repo.Booking.CloseByJourney(ctx, journeyID,
		[]entity.BookingStatus{entity.BookingStatusPendingPayment, entity.BookingStatusConfirmed},
		entity.BookingStatusCancelled, now()); err != nil {
		s.log.Error("Failed to cancel bookings", zap.Error(err), zap.String("journey_id", journeyID.String()))
	}

	for _, passengerID := range passengers {
		s.notifier.Notify(ctx, passengerID, notify.Notification{
			Kind:  notify.KindJourneyCancelled,
			Title: "Trip cancelled",
			Body:  fmt.Sprintf("Your trip from %s to %s was cancelled by the driver.", journey.Departure, journey.Arrival),
			Data:  map[string]string{"journeyId": journeyID.String()},
		})
	}

	summary := response.RefundSummary(refunded, len(held))
	s.log.Info("Journey cancelled", zap.String("journey_id", journeyID.String()), zap.String("summary", summary))

	return &response.JourneyCancelResponse{
		Journey:      response.JourneyToResponse(journey),
		HeldPayments: len(held),
		Refunded:     refunded,
		Summary:      summary,
	}, nil
}

func (s *journeyService) StartJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyResponse, error) {
	journey, err := s.transition(ctx, journeyID, driverID, entity.JourneyStatusScheduled, entity.JourneyStatusInProgress)
	if err != nil {
		return nil, err
	}

	held, err := s.repo.Payment.FindByJourneyAndStatus(ctx, journeyID, entity.PaymentStatusHeld)
	if err != nil {
		s.log.Error("Failed to list held payments", zap.Error(err), zap.String("journey_id", journeyID.String()))
	}
	for _, passengerID := range distinctPassengers(held) {
		s.notifier.Notify(ctx, passengerID, notify.Notification{
			Kind:  notify.KindJourneyStarted,
			Title: "Trip started",
			Body:  fmt.Sprintf("Your trip from %s to %s has started.", journey.Departure, journey.Arrival),
			Data:  map[string]string{"journeyId": journeyID.String()},
		})
	}

	resp := response.JourneyToResponse(journey)
	return &resp, nil
}

// CompleteJourney releases exactly the payments that are HELD at call time.
func (s *journeyService) CompleteJourney(ctx context.Context, journeyID, driverID uuid.UUID) (*response.JourneyCompleteResponse, error) {
	journey, err := s.transition(ctx, journeyID, driverID, entity.JourneyStatusInProgress, entity.JourneyStatusCompleted)
	if err != nil {
		return nil, err
	}

	held, err := s.repo.Payment.FindByJourneyAndStatus(ctx, journeyID, entity.PaymentStatusHeld)
	if err != nil {
		s.log.Error("Failed to list held payments", zap.Error(err), zap.String("journey_id", journeyID.String()))
		held = nil
	}

	var (
		released    []*entity.Payment
		failed      int
		totalPayout int64
	)
	for _, p := range held {
		payment, err := s.payments.release(ctx, p.ID)
		if err != nil {
			s.log.Warn("Release failed during completion",
				zap.Error(err),
				zap.String("payment_id", p.ID.String()),
			)
			failed++
			continue
		}
		released = append(released, payment)
		totalPayout += payment.DriverPayout
	}

	if _, err := s.repo.Booking.CloseByJourney(ctx, journeyID,
		[]entity.BookingStatus{entity.BookingStatusConfirmed}, entity.BookingStatusCompleted, now()); err != nil {
		s.log.Error("Failed to complete bookings", zap.Error(err), zap.String("journey_id", journeyID.String()))
	}
	if _, err := s.repo.Booking.CloseByJourney(ctx, journeyID,
		[]entity.BookingStatus{entity.BookingStatusPendingPayment}, entity.BookingStatusCancelled, now()); err != nil {
		s.log.Error("Failed to cancel unpaid bookings", zap.Error(err), zap.String("journey_id", journeyID.String()))
	}

	for _, passengerID := range distinctPassengers(released) {
		s.notifier.Notify(ctx, passengerID, notify.Notification{
			Kind:  notify.KindJourneyCompleted,
			Title: "Trip completed",
			Body:  fmt.Sprintf("You arrived in %s. Thanks for riding!", journey.Arrival),
			Data:  map[string]string{"journeyId": journeyID.String()},
		})
	}
	if len(released) > 0 {
		s.notifier.Notify(ctx, driverID, notify.Notification{
			Kind:  notify.KindPayout,
			Title: "Payout released",
			Body:  fmt.Sprintf("%d has been released for your trip to %s.", totalPayout, journey.Arrival),
			Data: map[string]string{
				"journeyId": journeyID.String(),
				"amount":    fmt.Sprintf("%d", totalPayout),
			},
		})
	}

	s.log.Info("Journey completed",
		zap.String("journey_id", journeyID.String()),
		zap.Int("released", len(released)),
		zap.Int("failed", failed),
		zap.Int64("total_payout", totalPayout),
	)

	return &response.JourneyCompleteResponse{
		Journey:     response.JourneyToResponse(journey),
		Released:    len(released),
		Failed:      failed,
		TotalPayout: totalPayout,
	}, nil
}

func (s *journeyService) PayoutSummary(ctx context.Context, requesterID uuid.UUID, role string, driverID uuid.UUID) (*response.PayoutSummaryResponse, error) {
	if !isAdmin(role) && requesterID != driverID {
		return nil, fmt.Errorf("%w: cannot read another driver's payouts", ErrUnauthorized)
	}

	released, err := s.repo.Payment.FindByDriverAndStatus(ctx, driverID, entity.PaymentStatusReleased)
	if err != nil {
		return nil, fmt.Errorf("list released payments: %w", err)
	}
	held, err := s.repo.Payment.FindByDriverAndStatus(ctx, driverID, entity.PaymentStatusHeld)
	if err != nil {
		return nil, fmt.Errorf("list held payments: %w", err)
	}

	summary := &entity.PayoutSummary{DriverID: driverID, Payouts: released}
	trips := make(map[uuid.UUID]struct{})
	for _, p := range released {
		summary.TotalEarned += p.DriverPayout
		trips[p.JourneyID] = struct{}{}
	}
	for _, p := range held {
		summary.PendingEscrow += p.DriverPayout
	}
	summary.TripCount = len(trips)

	sort.SliceStable(summary.Payouts, func(i, j int) bool {
		return releasedAt(summary.Payouts[i]).Before(releasedAt(summary.Payouts[j]))
	})

	return response.PayoutSummaryToResponse(summary), nil
}

func releasedAt(p *entity.Payment) time.Time {
	if p.ReleasedAt != nil {
		return *p.ReleasedAt
	}
	return p.UpdatedAt
}

// ==================== Helpers ====================

func (s *journeyService) find(ctx context.Context, journeyID uuid.UUID) (*entity.Journey, error) {
	journey, err := s.repo.Journey.FindByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("find journey: %w", err)
	}
	if journey == nil {
		return nil, fmt.Errorf("%w: journey %s", ErrNotFound, journeyID)
	}
	return journey, nil
}

func (s *journeyService) loadOwned(ctx context.Context, journeyID, driverID uuid.UUID) (*entity.Journey, error) {
	journey, err := s.find(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if !journey.IsOwnedBy(driverID) {
		s.log.Warn("Journey ownership check failed",
			zap.String("journey_id", journeyID.String()),
			zap.String("driver_id", driverID.String()),
		)
		return nil, fmt.Errorf("%w: journey belongs to another driver", ErrUnauthorized)
	}
	return journey, nil
}

// transition checks ownership, then applies the status change as one
// conditional update. A missed guard is reported as ErrStateConflict.
func (s *journeyService) transition(ctx context.Context, journeyID, driverID uuid.UUID, from, to entity.JourneyStatus) (*entity.Journey, error) {
	journey, err := s.loadOwned(ctx, journeyID, driverID)
	if err != nil {
		return nil, err
	}
	if journey.Status != from {
		return nil, fmt.Errorf("%w: journey is %s, expected %s", ErrStateConflict, journey.Status, from)
	}

	updated, err := s.repo.Journey.TransitionStatus(ctx, journeyID, driverID, from, to, now())
	if err != nil {
		return nil, fmt.Errorf("transition journey: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: journey is no longer %s", ErrStateConflict, from)
	}
	return updated, nil
}

// openPassengers lists passengers whose booking on the journey is still open.
func (s *journeyService) openPassengers(ctx context.Context, journeyID uuid.UUID) []uuid.UUID {
	bookings, err := s.repo.Booking.FindByJourneyID(ctx, journeyID)
	if err != nil {
		s.log.Error("Failed to list bookings", zap.Error(err), zap.String("journey_id", journeyID.String()))
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(bookings))
	var out []uuid.UUID
	for _, b := range bookings {
		if b.Status.IsClosed() {
			continue
		}
		if _, ok := seen[b.PassengerID]; ok {
			continue
		}
		seen[b.PassengerID] = struct{}{}
		out = append(out, b.PassengerID)
	}
	return out
}

func distinctPassengers(payments []*entity.Payment) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(payments))
	var out []uuid.UUID
	for _, p := range payments {
		if _, ok := seen[p.PassengerID]; ok {
			continue
		}
		seen[p.PassengerID] = struct{}{}
		out = append(out, p.PassengerID)
	}
	return out
}
