package usecase

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/internal/dto/response"
	"rideshare-escrow/internal/gateway"
	"rideshare-escrow/internal/metrics"
	"rideshare-escrow/internal/notify"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type PaymentService interface {
	// Passenger
	Initiate(ctx context.Context, passengerID uuid.UUID, req *request.InitiatePaymentRequest) (*response.InitiatePaymentResponse, error)
	Status(ctx context.Context, requesterID uuid.UUID, role string, paymentID uuid.UUID) (*response.PaymentResponse, error)
	GetPassengerPayments(ctx context.Context, requesterID uuid.UUID, role string, passengerID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.PaymentResponse], error)
	GetPaymentMethods(ctx context.Context) []response.PaymentMethodResponse

	// Gateway callback
	VerifySignature(signature string) bool
	HandleWebhook(ctx context.Context, payload *request.WebhookPayload) bool

	// Admin
	Release(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error)
	Refund(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error)
	Reverify(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error)
}

type paymentService struct {
	repo          *repository.Repository
	gateway       gateway.Gateway
	registry      *gateway.Registry
	notifier      notify.Sink
	dedupe        repository.WebhookDedupe
	hashSecret    string
	webhookSecret string
	currency      string
	feeRate       decimal.Decimal
	log           *zap.Logger
}

// newPaymentService returns the concrete type: the journey and booking
// services drive release and refund through it directly.
func newPaymentService(repo *repository.Repository, deps Dependencies, config *utils.Config, log *zap.Logger) *paymentService {
	return &paymentService{
		repo:          repo,
		gateway:       deps.Gateway,
		registry:      deps.Registry,
		notifier:      deps.Notifier,
		dedupe:        deps.Dedupe,
		hashSecret:    config.Payment.HashSecret,
		webhookSecret: config.Gateway.WebhookSecret,
		currency:      config.Payment.Currency,
		feeRate:       config.Payment.PlatformFeeRate,
		log:           log.With(zap.String("service", "payment")),
	}
}

// ==================== Initiate ====================

func (s *paymentService) Initiate(ctx context.Context, passengerID uuid.UUID, req *request.InitiatePaymentRequest) (*response.InitiatePaymentResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Initiate payment validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid booking ID", ErrValidation)
	}

	booking, err := s.repo.Booking.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	if booking.PassengerID != passengerID {
		return nil, fmt.Errorf("%w: booking belongs to another passenger", ErrUnauthorized)
	}
	if booking.Status != entity.BookingStatusPendingPayment {
		return nil, fmt.Errorf("%w: booking is %s, only PENDING_PAYMENT bookings can be paid", ErrStateConflict, booking.Status)
	}
	if req.Amount != booking.TotalPrice {
		return nil, fmt.Errorf("%w: amount %d does not match booking total %d", ErrValidation, req.Amount, booking.TotalPrice)
	}

	journey, err := s.repo.Journey.FindByID(ctx, booking.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("find journey: %w", err)
	}
	if journey == nil {
		return nil, fmt.Errorf("%w: journey %s", ErrNotFound, booking.JourneyID)
	}
	if journey.Status != entity.JourneyStatusScheduled {
		return nil, fmt.Errorf("%w: journey is %s", ErrStateConflict, journey.Status)
	}

	method := entity.PaymentMethod(req.Method)
	adapter, err := s.registry.Adapter(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	charge := gateway.ChargeRequest{
		Amount:   req.Amount,
		Currency: s.currency,
		Email:    req.Email,
		FullName: req.FullName,
		Phone:    req.Phone,
		Network:  req.Network,
	}
	if req.Card != nil {
		charge.Card = &gateway.Card{
			Number:      req.Card.Number,
			CVV:         req.Card.CVV,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
		}
	}
	if err := adapter.Validate(charge); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	live, err := s.repo.Payment.FindLiveByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("find live payment: %w", err)
	}
	if live != nil {
		return nil, fmt.Errorf("%w: booking already has a %s payment", ErrStateConflict, live.Status)
	}

	reference, err := utils.GeneratePaymentReference(booking.ID)
	if err != nil {
		s.log.Error("Failed to generate payment reference", zap.Error(err))
		return nil, fmt.Errorf("generate payment reference: %w", err)
	}

	fee, payout := entity.SplitFee(req.Amount, s.feeRate)
	payment := &entity.Payment{
		Base:             entity.NewBase(now()),
		Reference:        reference,
		BookingID:        booking.ID,
		JourneyID:        journey.ID,
		PassengerID:      passengerID,
		DriverID:         journey.DriverID,
		Amount:           req.Amount,
		PlatformFee:      fee,
		DriverPayout:     payout,
		Currency:         s.currency,
		Method:           method,
		Status:           entity.PaymentStatusPending,
		SettlementStatus: entity.SettlementStatusNone,
	}
	if charge.Card != nil {
		if last4 := utils.MaskCardNumber(charge.Card.Number); last4 != "" {
			payment.CardLast4 = &last4
		}
	}
	payment.Sign(s.hashSecret)

	// from here on the charge and its bookkeeping finish even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	if err := s.repo.Payment.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if err := s.repo.Booking.AttachPayment(ctx, booking.ID, payment.ID); err != nil {
		return nil, fmt.Errorf("attach payment: %w", err)
	}

	charge.Reference = reference
	result, err := s.charge(ctx, adapter, charge)
	if err != nil {
		s.log.Warn("Charge refused",
			zap.Error(err),
			zap.String("reference", reference),
			zap.String("method", string(method)),
		)

		reason := "payment was declined by the gateway"
		failed, terr := s.transition(ctx, payment.ID, entity.PaymentStatusPending, entity.PaymentStatusFailed, &reason)
		if terr != nil {
			return nil, terr
		}
		if failed != nil {
			payment = failed
			s.afterFailure(ctx, failed)
		}

		resp := response.PaymentToResponse(payment)
		return &response.InitiatePaymentResponse{
			Success: false,
			Message: "Payment could not be processed",
			Payment: &resp,
		}, nil
	}

	gatewayRef, txID := optional(result.GatewayRef), optional(result.TransactionID)
	if err := s.repo.Payment.AttachGatewayRefs(ctx, payment.ID, gatewayRef, txID); err != nil {
		// the webhook still finds the payment by reference
		s.log.Error("Failed to store gateway references", zap.Error(err), zap.String("reference", reference))
	}
	payment.GatewayRef, payment.TransactionID = gatewayRef, txID

	s.log.Info("Payment initiated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("reference", reference),
		zap.Int64("amount", payment.Amount),
	)

	resp := response.PaymentToResponse(payment)
	return &response.InitiatePaymentResponse{
		Success:     true,
		Message:     "Payment initiated, awaiting confirmation",
		Payment:     &resp,
		RedirectURL: result.RedirectURL,
	}, nil
}

// charge calls the adapter and turns a panic into an error.
func (s *paymentService) charge(ctx context.Context, adapter gateway.ChargeAdapter, req gateway.ChargeRequest) (result *gateway.ChargeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Charge adapter panicked",
				zap.Any("panic", r),
				zap.String("reference", req.Reference),
			)
			result, err = nil, fmt.Errorf("charge adapter panic: %v", r)
		}
	}()

	return adapter.Charge(ctx, req)
}

// ==================== Webhook ====================

// VerifySignature compares the webhook hash header with the configured secret
// in constant time. A secret starting with "$2" is treated as a bcrypt hash.
func (s *paymentService) VerifySignature(signature string) bool {
	if s.webhookSecret == "" || signature == "" {
		return false
	}
	if strings.HasPrefix(s.webhookSecret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(s.webhookSecret), []byte(signature)) == nil
	}
	return hmac.Equal([]byte(s.webhookSecret), []byte(signature))
}

// HandleWebhook applies a gateway callback and reports whether it changed a
// payment. It never returns an error: failures are logged for reconciliation.
func (s *paymentService) HandleWebhook(ctx context.Context, payload *request.WebhookPayload) bool {
	reference := payload.Data.Reference()
	if reference == "" {
		s.log.Warn("Webhook without reference", zap.String("event", payload.Event))
		metrics.TrackWebhook("ignored")
		return false
	}

	status := strings.ToLower(payload.Data.Status)
	txID := payload.Data.ID.String()

	var claimed string
	if s.dedupe != nil && txID != "" {
		key := txID + ":" + status
		first, err := s.dedupe.FirstSeen(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("Webhook de-duplication unavailable", zap.Error(err))
		case !first:
			s.log.Info("Duplicate webhook dropped", zap.String("reference", reference), zap.String("key", key))
			metrics.TrackWebhook("duplicate")
			return false
		default:
			claimed = key
		}
	}

	applied, err := s.processWebhook(ctx, reference, status, txID)
	if err != nil {
		s.log.Error("Webhook processing failed", zap.Error(err), zap.String("reference", reference))
		metrics.TrackWebhook("error")
		if claimed != "" {
			s.dedupe.Forget(ctx, claimed)
		}
		return false
	}

	return applied
}

func (s *paymentService) processWebhook(ctx context.Context, reference, status, txID string) (bool, error) {
	payment, err := s.repo.Payment.FindByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	if payment == nil {
		s.log.Warn("Webhook for unknown reference", zap.String("reference", reference))
		metrics.TrackWebhook("unknown")
		return false, nil
	}
	if payment.Status == entity.PaymentStatusFailed && status == "successful" {
		return s.refundLateCharge(ctx, payment, txID)
	}
	if payment.Status != entity.PaymentStatusPending {
		s.log.Info("Webhook for settled payment ignored",
			zap.String("reference", reference),
			zap.String("status", string(payment.Status)),
		)
		metrics.TrackWebhook("stale")
		return false, nil
	}
	if !payment.VerifyIntegrity(s.hashSecret) {
		s.log.Error("Payment integrity check failed", zap.String("payment_id", payment.ID.String()))
		metrics.TrackWebhook("integrity")
		return false, nil
	}

	if status != "successful" {
		applied := s.fail(ctx, payment, "gateway reported "+status)
		metrics.TrackWebhook("failed")
		return applied, nil
	}

	verification, err := s.verify(ctx, payment, txID)
	if err != nil {
		// stays PENDING, the reconciler will verify again
		return false, err
	}

	applied := s.applyVerification(ctx, payment, verification)
	if applied {
		metrics.TrackWebhook("applied")
	}
	return applied, nil
}

// refundLateCharge handles a charge the gateway collected after the payment
// had already failed here, e.g. one that outlived the charge timeout. The
// booking is gone by then, so the money goes back to the passenger. A refund
// the gateway refuses is left to the reconciler's settlement retries.
func (s *paymentService) refundLateCharge(ctx context.Context, p *entity.Payment, txID string) (bool, error) {
	if p.SettlementStatus == entity.SettlementStatusDone {
		metrics.TrackWebhook("stale")
		return false, nil
	}
	if !p.VerifyIntegrity(s.hashSecret) {
		s.log.Error("Payment integrity check failed", zap.String("payment_id", p.ID.String()))
		metrics.TrackWebhook("integrity")
		return false, nil
	}

	v, err := s.verify(ctx, p, txID)
	if err != nil {
		return false, err
	}
	if !v.Successful() || !s.matches(p, v) {
		s.log.Warn("Success webhook for failed payment not confirmed by gateway",
			zap.String("reference", p.Reference),
			zap.String("gateway_status", v.Status),
		)
		metrics.TrackWebhook("stale")
		return false, nil
	}

	s.log.Error("Gateway collected a failed payment, refunding",
		zap.String("payment_id", p.ID.String()),
		zap.String("reference", p.Reference),
		zap.String("transaction_id", v.TransactionID),
		zap.Int64("amount", p.Amount),
	)
	metrics.TrackWebhook("late_success")

	if p.TransactionID == nil && v.TransactionID != "" {
		id := v.TransactionID
		if err := s.repo.Payment.AttachGatewayRefs(ctx, p.ID, nil, &id); err != nil {
			s.log.Error("Failed to store transaction id", zap.Error(err), zap.String("payment_id", p.ID.String()))
		}
		p.TransactionID = &id
	}

	if err := s.settle(ctx, p); err != nil {
		s.log.Error("Refund of late charge failed, will be retried",
			zap.Error(err),
			zap.String("payment_id", p.ID.String()),
		)
		return true, nil
	}

	s.notifier.Notify(ctx, p.PassengerID, notify.Notification{
		Kind:  notify.KindPaymentRefunded,
		Title: "Payment refunded",
		Body:  fmt.Sprintf("Your payment of %d %s arrived after the booking was released and has been refunded.", p.Amount, p.Currency),
		Data:  map[string]string{"paymentId": p.ID.String(), "bookingId": p.BookingID.String()},
	})
	return true, nil
}

// verify asks the gateway about a payment's charge: by transaction id when
// one is known, by reference otherwise.
func (s *paymentService) verify(ctx context.Context, p *entity.Payment, txID string) (*gateway.Verification, error) {
	if txID == "" && p.TransactionID != nil {
		txID = *p.TransactionID
	}

	var (
		v   *gateway.Verification
		err error
	)
	if txID != "" {
		v, err = s.gateway.Verify(ctx, txID)
	} else {
		v, err = s.gateway.VerifyByReference(ctx, p.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: verify %s: %w", ErrGateway, p.Reference, err)
	}
	return v, nil
}

// resolvePending applies a verification to a PENDING payment. A status that
// is neither success nor a definitive failure leaves it PENDING.
func (s *paymentService) resolvePending(ctx context.Context, p *entity.Payment, v *gateway.Verification) (held, failed bool) {
	switch {
	case v.Successful():
		confirmed := s.matches(p, v)
		applied := s.applyVerification(ctx, p, v)
		return applied && confirmed, applied && !confirmed
	case isDefinitiveFailure(v.Status):
		return false, s.fail(ctx, p, "gateway reported "+v.Status)
	}
	return false, false
}

// applyVerification moves a PENDING payment according to the gateway's own
// view of the transaction. Only a matching successful verification holds funds.
func (s *paymentService) applyVerification(ctx context.Context, payment *entity.Payment, v *gateway.Verification) bool {
	if v.Successful() && s.matches(payment, v) {
		return s.hold(ctx, payment, v.TransactionID)
	}

	s.log.Warn("Verification did not confirm payment",
		zap.String("reference", payment.Reference),
		zap.String("gateway_status", v.Status),
		zap.String("gateway_reference", v.Reference),
		zap.Int64("gateway_amount", v.Amount),
	)
	return s.fail(ctx, payment, "gateway verification did not confirm the charge")
}

func (s *paymentService) matches(p *entity.Payment, v *gateway.Verification) bool {
	return v.Reference == p.Reference &&
		v.Amount == p.Amount &&
		strings.EqualFold(v.Currency, p.Currency)
}

func (s *paymentService) hold(ctx context.Context, p *entity.Payment, txID string) bool {
	held, err := s.transition(ctx, p.ID, entity.PaymentStatusPending, entity.PaymentStatusHeld, nil)
	if err != nil || held == nil {
		return false
	}

	if held.TransactionID == nil && txID != "" {
		if err := s.repo.Payment.AttachGatewayRefs(ctx, held.ID, nil, &txID); err != nil {
			s.log.Error("Failed to store transaction id", zap.Error(err), zap.String("payment_id", held.ID.String()))
		}
		held.TransactionID = &txID
	}

	s.log.Info("Payment held in escrow",
		zap.String("payment_id", held.ID.String()),
		zap.String("reference", held.Reference),
	)
	s.afterHeld(ctx, held)
	return true
}

func (s *paymentService) fail(ctx context.Context, p *entity.Payment, reason string) bool {
	failed, err := s.transition(ctx, p.ID, entity.PaymentStatusPending, entity.PaymentStatusFailed, &reason)
	if err != nil || failed == nil {
		return false
	}

	s.log.Info("Payment failed",
		zap.String("payment_id", failed.ID.String()),
		zap.String("reason", reason),
	)
	s.afterFailure(ctx, failed)
	return true
}

// ==================== Queries ====================

// Status is read-only so clients can poll it as often as they like.
func (s *paymentService) Status(ctx context.Context, requesterID uuid.UUID, role string, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	payment, err := s.repo.Payment.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if !isAdmin(role) && payment.PassengerID != requesterID && payment.DriverID != requesterID {
		return nil, fmt.Errorf("%w: payment belongs to another user", ErrUnauthorized)
	}

	resp := response.PaymentToResponse(payment)
	return &resp, nil
}

// Reverify asks the gateway about a PENDING payment now rather than waiting
// for the webhook or the next reconciler sweep.
func (s *paymentService) Reverify(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	payment, err := s.repo.Payment.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if payment.Status != entity.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s, only PENDING payments can be re-verified", ErrStateConflict, payment.Status)
	}
	if !payment.VerifyIntegrity(s.hashSecret) {
		s.log.Error("Payment integrity check failed", zap.String("payment_id", paymentID.String()))
		return nil, fmt.Errorf("%w: payment %s", ErrIntegrity, paymentID)
	}

	v, err := s.verify(ctx, payment, "")
	if err != nil {
		s.log.Warn("Manual verification failed", zap.Error(err), zap.String("reference", payment.Reference))
		return nil, err
	}
	s.resolvePending(ctx, payment, v)

	latest, err := s.repo.Payment.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("reload payment: %w", err)
	}
	resp := response.PaymentToResponse(latest)
	return &resp, nil
}

func (s *paymentService) GetPassengerPayments(ctx context.Context, requesterID uuid.UUID, role string, passengerID uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.PaymentResponse], error) {
	if !isAdmin(role) && requesterID != passengerID {
		return nil, fmt.Errorf("%w: cannot list another passenger's payments", ErrUnauthorized)
	}

	payments, err := s.repo.Payment.FindByPassengerID(ctx, passengerID, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	total, err := s.repo.Payment.CountByPassengerID(ctx, passengerID)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}

	data := make([]response.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		data = append(data, response.PaymentToResponse(p))
	}

	return response.NewPaginatedResponse(data, req.CurrentPage(), req.Limit(), total), nil
}

func (s *paymentService) GetPaymentMethods(_ context.Context) []response.PaymentMethodResponse {
	methods := s.registry.Methods()
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

	out := make([]response.PaymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		out = append(out, response.PaymentMethodResponse{Method: m, MobileMoney: m.IsMobileMoney()})
	}
	return out
}

// ==================== Release / Refund ====================

func (s *paymentService) Release(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	payment, err := s.release(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	resp := response.PaymentToResponse(payment)
	return &resp, nil
}

func (s *paymentService) Refund(ctx context.Context, paymentID uuid.UUID) (*response.PaymentResponse, error) {
	payment, err := s.refund(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	resp := response.PaymentToResponse(payment)
	return &resp, nil
}

func (s *paymentService) release(ctx context.Context, paymentID uuid.UUID) (*entity.Payment, error) {
	payment, err := s.leaveEscrow(ctx, paymentID, entity.PaymentStatusReleased)
	if err != nil {
		return nil, err
	}
	s.afterRelease(ctx, payment)
	return payment, nil
}

func (s *paymentService) refund(ctx context.Context, paymentID uuid.UUID) (*entity.Payment, error) {
	payment, err := s.leaveEscrow(ctx, paymentID, entity.PaymentStatusRefunded)
	if err != nil {
		return nil, err
	}
	s.afterRefund(ctx, payment)
	return payment, nil
}

// leaveEscrow moves a HELD payment to RELEASED or REFUNDED with one
// conditional update, then moves the funds. Of two concurrent callers exactly
// one gets the payment back; the other gets ErrStateConflict.
func (s *paymentService) leaveEscrow(ctx context.Context, paymentID uuid.UUID, to entity.PaymentStatus) (*entity.Payment, error) {
	current, err := s.repo.Payment.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if !current.VerifyIntegrity(s.hashSecret) {
		s.log.Error("Payment integrity check failed", zap.String("payment_id", paymentID.String()))
		return nil, fmt.Errorf("%w: payment %s", ErrIntegrity, paymentID)
	}

	moved, err := s.transition(ctx, paymentID, entity.PaymentStatusHeld, to, nil)
	if err != nil {
		return nil, err
	}
	if moved == nil {
		latest, err := s.repo.Payment.FindByID(ctx, paymentID)
		if err != nil {
			return nil, fmt.Errorf("reload payment: %w", err)
		}
		if latest == nil {
			latest = current
		}
		return nil, escrowConflict(latest.Status, to)
	}

	s.log.Info("Payment left escrow",
		zap.String("payment_id", moved.ID.String()),
		zap.String("status", string(moved.Status)),
	)

	if err := s.settle(ctx, moved); err != nil {
		s.log.Warn("Settlement failed, will be retried",
			zap.Error(err),
			zap.String("payment_id", moved.ID.String()),
		)
	}
	return moved, nil
}

func escrowConflict(current, wanted entity.PaymentStatus) error {
	verb := strings.ToLower(string(wanted))
	if current == wanted {
		return fmt.Errorf("%w: payment already %s", ErrStateConflict, verb)
	}
	return fmt.Errorf("%w: payment is %s, only HELD payments can be %s", ErrStateConflict, current, verb)
}

// settle moves the funds for a released or refunded payment and records the
// outcome. A failure is recorded, never rolled back into the state machine.
func (s *paymentService) settle(ctx context.Context, p *entity.Payment) error {
	ctx = context.WithoutCancel(ctx)

	var (
		kind string
		err  error
	)
	switch p.Status {
	case entity.PaymentStatusReleased:
		kind = "transfer"
		if _, terr := s.gateway.Transfer(ctx, gateway.TransferRequest{
			Reference:   p.Reference + "-PAYOUT",
			Amount:      p.DriverPayout,
			Currency:    p.Currency,
			Beneficiary: p.DriverID.String(),
			Narration:   "Trip payout " + p.JourneyID.String(),
		}); terr != nil {
			err = fmt.Errorf("%w: transfer: %w", ErrGateway, terr)
		}
	case entity.PaymentStatusRefunded, entity.PaymentStatusFailed:
		// FAILED only gets here for a charge the gateway collected late
		kind = "refund"
		if p.TransactionID == nil {
			err = errors.New("no gateway transaction to refund")
		} else if _, rerr := s.gateway.Refund(ctx, *p.TransactionID, p.Amount); rerr != nil {
			err = fmt.Errorf("%w: refund: %w", ErrGateway, rerr)
		}
	default:
		return nil
	}
	metrics.TrackSettlement(kind, err)

	status := entity.SettlementStatusDone
	var settlementErr *string
	if err != nil {
		status = entity.SettlementStatusFailed
		settlementErr = optional(err.Error())
	}

	if rerr := s.repo.Payment.RecordSettlement(ctx, p.ID, status, settlementErr); rerr != nil {
		s.log.Error("Failed to record settlement", zap.Error(rerr), zap.String("payment_id", p.ID.String()))
	}
	p.SettlementStatus, p.SettlementError = status, settlementErr

	return err
}

func (s *paymentService) transition(ctx context.Context, id uuid.UUID, from, to entity.PaymentStatus, reason *string) (*entity.Payment, error) {
	payment, err := s.repo.Payment.Transition(ctx, id, from, to, now(), reason)
	if err != nil {
		return nil, fmt.Errorf("transition payment %s: %w", id, err)
	}
	metrics.TrackPaymentTransition(string(to), payment != nil)
	return payment, nil
}

// ==================== Booking side effects ====================

func (s *paymentService) afterHeld(ctx context.Context, p *entity.Payment) {
	confirmed, err := s.repo.Booking.TransitionStatus(ctx, p.BookingID, entity.BookingStatusPendingPayment, entity.BookingStatusConfirmed, now())
	if err != nil {
		s.log.Error("Failed to confirm booking", zap.Error(err), zap.String("booking_id", p.BookingID.String()))
		return
	}

	if !confirmed {
		booking, err := s.repo.Booking.FindByID(ctx, p.BookingID)
		if err != nil {
			s.log.Error("Failed to load booking", zap.Error(err), zap.String("booking_id", p.BookingID.String()))
			return
		}
		if booking != nil && booking.Status == entity.BookingStatusCancelled {
			// cancelled while the charge was in flight
			s.log.Info("Refunding payment of cancelled booking", zap.String("payment_id", p.ID.String()))
			if _, err := s.refund(ctx, p.ID); err != nil {
				s.log.Error("Automatic refund failed", zap.Error(err), zap.String("payment_id", p.ID.String()))
			}
			return
		}
	}

	s.notifier.Notify(ctx, p.PassengerID, notify.Notification{
		Kind:  notify.KindPaymentHeld,
		Title: "Payment confirmed",
		Body:  fmt.Sprintf("Your payment of %d %s is held until the trip is completed.", p.Amount, p.Currency),
		Data:  map[string]string{"paymentId": p.ID.String(), "bookingId": p.BookingID.String()},
	})
}

func (s *paymentService) afterFailure(ctx context.Context, p *entity.Payment) {
	s.closeBooking(ctx, p.BookingID, entity.BookingStatusPendingPayment)

	s.notifier.Notify(ctx, p.PassengerID, notify.Notification{
		Kind:  notify.KindPaymentFailed,
		Title: "Payment failed",
		Body:  "Your payment could not be completed and the seats were released.",
		Data:  map[string]string{"paymentId": p.ID.String(), "bookingId": p.BookingID.String()},
	})
}

func (s *paymentService) afterRelease(ctx context.Context, p *entity.Payment) {
	if _, err := s.repo.Booking.TransitionStatus(ctx, p.BookingID, entity.BookingStatusConfirmed, entity.BookingStatusCompleted, now()); err != nil {
		s.log.Error("Failed to complete booking", zap.Error(err), zap.String("booking_id", p.BookingID.String()))
	}
}

func (s *paymentService) afterRefund(ctx context.Context, p *entity.Payment) {
	s.closeBooking(ctx, p.BookingID, entity.BookingStatusPendingPayment, entity.BookingStatusConfirmed)
}

// closeBooking cancels the booking from the first matching status and returns
// its seats. The conditional update makes sure seats are returned once.
func (s *paymentService) closeBooking(ctx context.Context, bookingID uuid.UUID, from ...entity.BookingStatus) bool {
	booking, err := s.repo.Booking.FindByID(ctx, bookingID)
	if err != nil || booking == nil {
		s.log.Error("Failed to load booking", zap.Error(err), zap.String("booking_id", bookingID.String()))
		return false
	}

	for _, status := range from {
		ok, err := s.repo.Booking.TransitionStatus(ctx, bookingID, status, entity.BookingStatusCancelled, now())
		if err != nil {
			s.log.Error("Failed to cancel booking", zap.Error(err), zap.String("booking_id", bookingID.String()))
			return false
		}
		if !ok {
			continue
		}

		if err := s.repo.Journey.ReleaseSeats(ctx, booking.JourneyID, booking.Seats); err != nil {
			s.log.Error("Failed to release seats",
				zap.Error(err),
				zap.String("journey_id", booking.JourneyID.String()),
				zap.Int("seats", booking.Seats),
			)
		}
		return true
	}
	return false
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
