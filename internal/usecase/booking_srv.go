package usecase

import (
	"context"
	"fmt"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/dto/response"
	"rideshare-escrow/internal/metrics"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingService interface {
	// Passenger
	CreateBooking(ctx context.Context, passengerID uuid.UUID, req *request.CreateBookingRequest) (*response.BookingResponse, error)
	GetPassengerBookings(ctx context.Context, requesterID uuid.UUID, role string, passengerID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error)
	CancelBooking(ctx context.Context, bookingID, passengerID uuid.UUID) (*response.CancelBookingResponse, error)

	// Participants
	GetBooking(ctx context.Context, requesterID uuid.UUID, role string, bookingID uuid.UUID) (*response.BookingResponse, error)
}

type bookingService struct {
	repo     *repository.Repository
	payments *paymentService
	log      *zap.Logger
}

func NewBookingService(repo *repository.Repository, payments *paymentService, log *zap.Logger) BookingService {
	return &bookingService{
		repo:     repo,
		payments: payments,
		log:      log.With(zap.String("service", "booking")),
	}
}

// CreateBooking reserves seats with one conditional decrement. Two passengers
// racing for the last seat cannot both win.
func (s *bookingService) CreateBooking(ctx context.Context, passengerID uuid.UUID, req *request.CreateBookingRequest) (*response.BookingResponse, error) {
	// Validate request
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Create booking validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	journeyID, err := uuid.Parse(req.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid journey ID", ErrValidation)
	}

	journey, err := s.repo.Journey.FindByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("find journey: %w", err)
	}
	if journey == nil {
		return nil, fmt.Errorf("%w: journey %s", ErrNotFound, journeyID)
	}
	if journey.IsOwnedBy(passengerID) {
		return nil, fmt.Errorf("%w: drivers cannot book their own journey", ErrValidation)
	}
	if journey.Status != entity.JourneyStatusScheduled {
		return nil, fmt.Errorf("%w: journey is %s, only SCHEDULED journeys can be booked", ErrStateConflict, journey.Status)
	}

	// Reserve seats
	reserved, err := s.repo.Journey.ReserveSeats(ctx, journeyID, req.Seats)
	if err != nil {
		return nil, fmt.Errorf("reserve seats: %w", err)
	}
	metrics.TrackSeatReservation(reserved)
	if !reserved {
		return nil, fmt.Errorf("%w: not enough seats available", ErrStateConflict)
	}

	booking := &entity.Booking{
		Base:        entity.NewBase(now()),
		JourneyID:   journeyID,
		PassengerID: passengerID,
		DriverID:    journey.DriverID,
		Seats:       req.Seats,
		TotalPrice:  int64(req.Seats) * journey.PricePerSeat,
		Status:      entity.BookingStatusPendingPayment,
	}

	if err := s.repo.Booking.Create(ctx, booking); err != nil {
		// give the seats back
		if rerr := s.repo.Journey.ReleaseSeats(ctx, journeyID, req.Seats); rerr != nil {
			s.log.Error("Failed to return seats after booking error",
				zap.Error(rerr),
				zap.String("journey_id", journeyID.String()),
				zap.Int("seats", req.Seats),
			)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.log.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("journey_id", journeyID.String()),
		zap.Int("seats", booking.Seats),
	)

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

func (s *bookingService) GetBooking(ctx context.Context, requesterID uuid.UUID, role string, bookingID uuid.UUID) (*response.BookingResponse, error) {
	booking, err := s.find(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !isAdmin(role) && !booking.IsParticipant(requesterID) {
		return nil, fmt.Errorf("%w: booking belongs to another user", ErrUnauthorized)
	}

	resp := response.BookingToResponse(booking)
	if booking.PaymentID != nil {
		payment, err := s.repo.Payment.FindByID(ctx, *booking.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("find payment: %w", err)
		}
		if payment != nil {
			p := response.PaymentToResponse(payment)
			resp.Payment = &p
		}
	}

	return &resp, nil
}

func (s *bookingService) GetPassengerBookings(ctx context.Context, requesterID uuid.UUID, role string, passengerID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	if !isAdmin(role) && requesterID != passengerID {
		return nil, fmt.Errorf("%w: cannot list another passenger's bookings", ErrUnauthorized)
	}

	bookings, err := s.repo.Booking.FindByPassengerID(ctx, passengerID, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	total, err := s.repo.Booking.CountByPassengerID(ctx, passengerID)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}

	data := make([]response.BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		data = append(data, response.BookingToResponse(b))
	}

	return response.NewPaginatedResponse(data, req.CurrentPage(), req.Limit(), total), nil
}

// CancelBooking refunds a HELD payment and returns the seats. A PENDING
// payment is refunded automatically once the gateway confirms it.
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, passengerID uuid.UUID) (*response.CancelBookingResponse, error) {
	booking, err := s.find(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PassengerID != passengerID {
		return nil, fmt.Errorf("%w: booking belongs to another passenger", ErrUnauthorized)
	}
	if booking.Status.IsClosed() {
		return nil, fmt.Errorf("%w: booking is already %s", ErrStateConflict, booking.Status)
	}

	journey, err := s.repo.Journey.FindByID(ctx, booking.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("find journey: %w", err)
	}
	if journey == nil || journey.Status != entity.JourneyStatusScheduled {
		return nil, fmt.Errorf("%w: bookings can only be cancelled before the trip starts", ErrStateConflict)
	}

	refunded := false
	if booking.PaymentID != nil {
		payment, err := s.repo.Payment.FindByID(ctx, *booking.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("find payment: %w", err)
		}
		if payment != nil && payment.Status == entity.PaymentStatusHeld {
			if _, err := s.payments.refund(ctx, payment.ID); err != nil {
				return nil, err
			}
			refunded = true
		}
	}

	// the refund may already have closed the booking
	if !s.payments.closeBooking(ctx, booking.ID, booking.Status) && !refunded {
		latest, err := s.find(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: booking is already %s", ErrStateConflict, latest.Status)
	}

	latest, err := s.find(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	s.log.Info("Booking cancelled",
		zap.String("booking_id", bookingID.String()),
		zap.Bool("refunded", refunded),
	)

	return &response.CancelBookingResponse{
		Booking:  response.BookingToResponse(latest),
		Refunded: refunded,
	}, nil
}

func (s *bookingService) find(ctx context.Context, bookingID uuid.UUID) (*entity.Booking, error) {
	booking, err := s.repo.Booking.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return booking, nil
}
