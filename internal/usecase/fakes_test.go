package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/gateway"
	"rideshare-escrow/internal/notify"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testHashSecret = "test-hash-secret"

// memStore is an in-memory store with the same conditional-update semantics
// as the SQL repositories. One mutex stands in for row locks.
type memStore struct {
	mu       sync.Mutex
	journeys map[uuid.UUID]*entity.Journey
	bookings map[uuid.UUID]*entity.Booking
	payments map[uuid.UUID]*entity.Payment
	messages []*entity.ChatMessage
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{
		journeys: make(map[uuid.UUID]*entity.Journey),
		bookings: make(map[uuid.UUID]*entity.Booking),
		payments: make(map[uuid.UUID]*entity.Payment),
	}
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Journey: &memJourneys{m},
		Booking: &memBookings{m},
		Payment: &memPayments{m},
		Chat:    &memChat{m},
	}
}

func cloneJourney(j *entity.Journey) *entity.Journey { c := *j; return &c }
func cloneBooking(b *entity.Booking) *entity.Booking { c := *b; return &c }
func clonePayment(p *entity.Payment) *entity.Payment { c := *p; return &c }

// ==================== Journeys ====================

type memJourneys struct{ m *memStore }

func (r *memJourneys) Create(_ context.Context, j *entity.Journey) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.journeys[j.ID] = cloneJourney(j)
	return nil
}

func (r *memJourneys) FindByID(_ context.Context, id uuid.UUID) (*entity.Journey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if j, ok := r.m.journeys[id]; ok {
		return cloneJourney(j), nil
	}
	return nil, nil
}

func (r *memJourneys) FindByDriverID(_ context.Context, driverID uuid.UUID, limit, offset int) ([]*entity.Journey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Journey
	for _, j := range r.m.journeys {
		if j.DriverID == driverID {
			out = append(out, cloneJourney(j))
		}
	}
	return page(out, limit, offset), nil
}

func (r *memJourneys) CountByDriverID(ctx context.Context, driverID uuid.UUID) (int64, error) {
	all, _ := r.FindByDriverID(ctx, driverID, 1000, 0)
	return int64(len(all)), nil
}

func (r *memJourneys) Search(_ context.Context, filter entity.JourneyFilter, limit, offset int) ([]*entity.Journey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Journey
	for _, j := range r.m.journeys {
		if j.Status == entity.JourneyStatusScheduled && j.AvailableSeats >= filter.MinSeats {
			out = append(out, cloneJourney(j))
		}
	}
	return page(out, limit, offset), nil
}

func (r *memJourneys) CountSearch(ctx context.Context, filter entity.JourneyFilter) (int64, error) {
	all, _ := r.Search(ctx, filter, 1000, 0)
	return int64(len(all)), nil
}

func (r *memJourneys) ApplyPatch(_ context.Context, id, driverID uuid.UUID, patch entity.JourneyPatch, at time.Time) (*entity.Journey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.journeys[id]
	if !ok || j.DriverID != driverID || j.Status != entity.JourneyStatusScheduled {
		return nil, nil
	}
	if patch.TotalSeats != nil && *patch.TotalSeats < j.BookedSeats() {
		return nil, nil
	}
	if patch.Departure != nil {
		j.Departure = *patch.Departure
	}
	if patch.Arrival != nil {
		j.Arrival = *patch.Arrival
	}
	if patch.DepartureAt != nil {
		j.DepartureAt = *patch.DepartureAt
	}
	if patch.PricePerSeat != nil {
		j.PricePerSeat = *patch.PricePerSeat
	}
	if patch.TotalSeats != nil {
		j.AvailableSeats += *patch.TotalSeats - j.TotalSeats
		j.TotalSeats = *patch.TotalSeats
	}
	j.UpdatedAt = at
	return cloneJourney(j), nil
}

func (r *memJourneys) TransitionStatus(_ context.Context, id, driverID uuid.UUID, from, to entity.JourneyStatus, at time.Time) (*entity.Journey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.journeys[id]
	if !ok || j.DriverID != driverID || j.Status != from {
		return nil, nil
	}
	j.Status = to
	switch to {
	case entity.JourneyStatusInProgress:
		j.StartedAt = &at
	case entity.JourneyStatusCompleted:
		j.CompletedAt = &at
	case entity.JourneyStatusCancelled:
		j.CancelledAt = &at
	}
	j.UpdatedAt = at
	return cloneJourney(j), nil
}

func (r *memJourneys) ReserveSeats(_ context.Context, id uuid.UUID, seats int) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.journeys[id]
	if !ok || j.Status != entity.JourneyStatusScheduled || j.AvailableSeats < seats {
		return false, nil
	}
	j.AvailableSeats -= seats
	return true, nil
}

func (r *memJourneys) ReleaseSeats(_ context.Context, id uuid.UUID, seats int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.journeys[id]
	if !ok {
		return fmt.Errorf("journey %s not found", id)
	}
	j.AvailableSeats = min(j.TotalSeats, j.AvailableSeats+seats)
	return nil
}

// ==================== Bookings ====================

type memBookings struct{ m *memStore }

func (r *memBookings) Create(_ context.Context, b *entity.Booking) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (r *memBookings) FindByID(_ context.Context, id uuid.UUID) (*entity.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if b, ok := r.m.bookings[id]; ok {
		return cloneBooking(b), nil
	}
	return nil, nil
}

func (r *memBookings) FindByPassengerID(_ context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Booking
	for _, b := range r.m.bookings {
		if b.PassengerID == passengerID {
			out = append(out, cloneBooking(b))
		}
	}
	return page(out, limit, offset), nil
}

func (r *memBookings) CountByPassengerID(ctx context.Context, passengerID uuid.UUID) (int64, error) {
	all, _ := r.FindByPassengerID(ctx, passengerID, 1000, 0)
	return int64(len(all)), nil
}

func (r *memBookings) FindByJourneyID(_ context.Context, journeyID uuid.UUID) ([]*entity.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Booking
	for _, b := range r.m.bookings {
		if b.JourneyID == journeyID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memBookings) AttachPayment(_ context.Context, bookingID, paymentID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s not found", bookingID)
	}
	b.PaymentID = &paymentID
	return nil
}

func (r *memBookings) TransitionStatus(ctx context.Context, id uuid.UUID, from, to entity.BookingStatus, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	if to == entity.BookingStatusCancelled {
		b.CancelledAt = &at
	}
	b.UpdatedAt = at
	return true, nil
}

func (r *memBookings) CloseByJourney(_ context.Context, journeyID uuid.UUID, from []entity.BookingStatus, to entity.BookingStatus, at time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, b := range r.m.bookings {
		if b.JourneyID != journeyID {
			continue
		}
		for _, st := range from {
			if b.Status == st {
				b.Status = to
				if to == entity.BookingStatusCancelled {
					b.CancelledAt = &at
				}
				n++
				break
			}
		}
	}
	return n, nil
}

// ==================== Payments ====================

type memPayments struct{ m *memStore }

func (r *memPayments) Create(_ context.Context, p *entity.Payment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *memPayments) FindByID(_ context.Context, id uuid.UUID) (*entity.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if p, ok := r.m.payments[id]; ok {
		return clonePayment(p), nil
	}
	return nil, nil
}

func (r *memPayments) filter(keep func(*entity.Payment) bool) []*entity.Payment {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Payment
	for _, p := range r.m.payments {
		if keep(p) {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

func (r *memPayments) FindByReference(_ context.Context, reference string) (*entity.Payment, error) {
	found := r.filter(func(p *entity.Payment) bool { return p.Reference == reference })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *memPayments) FindLiveByBookingID(_ context.Context, bookingID uuid.UUID) (*entity.Payment, error) {
	found := r.filter(func(p *entity.Payment) bool { return p.BookingID == bookingID && p.Status.IsLive() })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *memPayments) FindByPassengerID(_ context.Context, passengerID uuid.UUID, limit, offset int) ([]*entity.Payment, error) {
	return page(r.filter(func(p *entity.Payment) bool { return p.PassengerID == passengerID }), limit, offset), nil
}

func (r *memPayments) CountByPassengerID(_ context.Context, passengerID uuid.UUID) (int64, error) {
	return int64(len(r.filter(func(p *entity.Payment) bool { return p.PassengerID == passengerID }))), nil
}

func (r *memPayments) FindByJourneyAndStatus(_ context.Context, journeyID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool { return p.JourneyID == journeyID && p.Status == status }), nil
}

func (r *memPayments) FindByDriverAndStatus(_ context.Context, driverID uuid.UUID, status entity.PaymentStatus) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool { return p.DriverID == driverID && p.Status == status }), nil
}

func (r *memPayments) Transition(ctx context.Context, id uuid.UUID, from, to entity.PaymentStatus, at time.Time, reason *string) (*entity.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[id]
	if !ok || p.Status != from {
		return nil, nil
	}
	p.Status = to
	switch to {
	case entity.PaymentStatusReleased:
		p.ReleasedAt = &at
	case entity.PaymentStatusRefunded:
		p.RefundedAt = &at
	}
	if reason != nil {
		p.FailureReason = reason
	}
	p.UpdatedAt = at
	return clonePayment(p), nil
}

func (r *memPayments) AttachGatewayRefs(ctx context.Context, id uuid.UUID, gatewayRef, transactionID *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[id]
	if !ok {
		return fmt.Errorf("payment %s not found", id)
	}
	if gatewayRef != nil {
		p.GatewayRef = gatewayRef
	}
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	return nil
}

func (r *memPayments) RecordSettlement(_ context.Context, id uuid.UUID, status entity.SettlementStatus, settlementErr *string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[id]
	if !ok {
		return fmt.Errorf("payment %s not found", id)
	}
	p.SettlementStatus = status
	p.SettlementError = settlementErr
	return nil
}

func (r *memPayments) FindStalePending(_ context.Context, createdBefore time.Time, limit int) ([]*entity.Payment, error) {
	return page(r.filter(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusPending && p.CreatedAt.Before(createdBefore)
	}), limit, 0), nil
}

func (r *memPayments) FindSettlementFailed(_ context.Context, limit int) ([]*entity.Payment, error) {
	return page(r.filter(func(p *entity.Payment) bool {
		return p.SettlementStatus == entity.SettlementStatusFailed &&
			(p.Status == entity.PaymentStatusReleased || p.Status == entity.PaymentStatusRefunded ||
				p.Status == entity.PaymentStatusFailed)
	}), limit, 0), nil
}

func (r *memPayments) FindHeldOnClosedJourneys(_ context.Context, limit int) ([]*entity.Payment, error) {
	r.m.mu.Lock()
	closed := make(map[uuid.UUID]bool)
	for id, j := range r.m.journeys {
		closed[id] = j.Status == entity.JourneyStatusCancelled || j.Status == entity.JourneyStatusCompleted
	}
	r.m.mu.Unlock()

	return page(r.filter(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusHeld && closed[p.JourneyID]
	}), limit, 0), nil
}

// ==================== Chat ====================

type memChat struct{ m *memStore }

func (r *memChat) Append(_ context.Context, msg *entity.ChatMessage) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.seq++
	msg.Seq = r.m.seq
	c := *msg
	r.m.messages = append(r.m.messages, &c)
	return nil
}

func (r *memChat) FindByRoomID(_ context.Context, roomID uuid.UUID) ([]*entity.ChatMessage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*entity.ChatMessage, 0)
	for _, msg := range r.m.messages {
		if msg.RoomID == roomID {
			c := *msg
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *memChat) FindSenderIDs(_ context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, msg := range r.m.messages {
		if msg.RoomID == roomID && !seen[msg.SenderID] {
			seen[msg.SenderID] = true
			out = append(out, msg.SenderID)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := min(len(items), offset+limit)
	return items[offset:end]
}

// ==================== Collaborators ====================

// fakeGateway accepts every charge unless told otherwise and confirms the
// transactions listed in verifications.
type fakeGateway struct {
	mu            sync.Mutex
	chargeErr     error
	chargePanic   bool
	onCharge      func()
	verifyErr     error
	transferErr   error
	refundErr     error
	verifications map[string]*gateway.Verification
	transfers     []gateway.TransferRequest
	refunds       []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verifications: make(map[string]*gateway.Verification)}
}

func (g *fakeGateway) Charge(_ context.Context, _ string, payload map[string]any) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onCharge != nil {
		g.onCharge()
	}
	if g.chargePanic {
		panic("adapter exploded")
	}
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	ref, _ := payload["tx_ref"].(string)
	return &gateway.ChargeResult{GatewayRef: "FLW-" + ref, TransactionID: "tx-" + ref, Status: "pending"}, nil
}

func (g *fakeGateway) Verify(_ context.Context, transactionID string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v, ok := g.verifications[transactionID]
	if !ok {
		return nil, gateway.ErrDeclined
	}
	c := *v
	return &c, nil
}

func (g *fakeGateway) VerifyByReference(_ context.Context, reference string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	for _, v := range g.verifications {
		if v.Reference == reference {
			c := *v
			return &c, nil
		}
	}
	return nil, gateway.ErrDeclined
}

func (g *fakeGateway) Refund(_ context.Context, transactionID string, _ int64) (*gateway.SettlementResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, transactionID)
	return &gateway.SettlementResult{ID: "rf-" + transactionID, Status: "completed"}, nil
}

func (g *fakeGateway) Transfer(_ context.Context, req gateway.TransferRequest) (*gateway.SettlementResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, req)
	return &gateway.SettlementResult{ID: "tr-" + req.Reference, Status: "NEW"}, nil
}

func (g *fakeGateway) confirm(p *entity.Payment, txID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[txID] = &gateway.Verification{
		TransactionID: txID,
		Reference:     p.Reference,
		Status:        "successful",
		Amount:        p.Amount,
		Currency:      p.Currency,
	}
}

type sentNotification struct {
	UserID uuid.UUID
	notify.Notification
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (s *recordingSink) Notify(_ context.Context, userID uuid.UUID, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNotification{UserID: userID, Notification: n})
}

func (s *recordingSink) ofKind(kind notify.Kind) []sentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentNotification
	for _, n := range s.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeRelay struct {
	mu        sync.Mutex
	online    map[uuid.UUID]bool
	published []*entity.ChatMessage
	fail      bool
}

func (r *fakeRelay) Publish(_ context.Context, msg *entity.ChatMessage, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("bus down")
	}
	r.published = append(r.published, msg)
	return nil
}

func (r *fakeRelay) IsOnline(_, userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// ==================== Fixture ====================

type fixture struct {
	store    *memStore
	gateway  *fakeGateway
	sink     *recordingSink
	relay    *fakeRelay
	services *Service
	payments *paymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	gw := newFakeGateway()
	sink := &recordingSink{}
	relay := &fakeRelay{online: make(map[uuid.UUID]bool)}

	config := &utils.Config{
		Gateway: utils.GatewayConfig{WebhookSecret: "whsec"},
		Payment: utils.PaymentConfig{
			HashSecret:      testHashSecret,
			PlatformFeeRate: decimal.RequireFromString("0.10"),
			Currency:        "XAF",
		},
		Reconcile: utils.ReconcileConfig{Interval: time.Minute, PendingStale: 15 * time.Minute, PendingExpiry: 24 * time.Hour},
	}

	services := NewService(store.repository(), Dependencies{
		Gateway:  gw,
		Registry: gateway.NewDefaultRegistry(gw),
		Notifier: sink,
		Relay:    relay,
	}, config, zap.NewNop())

	return &fixture{
		store:    store,
		gateway:  gw,
		sink:     sink,
		relay:    relay,
		services: services,
		payments: services.Payment.(*paymentService),
	}
}

func (f *fixture) journey(driverID uuid.UUID, totalSeats int, price int64) *entity.Journey {
	j := &entity.Journey{
		Base:           entity.NewBase(time.Now()),
		DriverID:       driverID,
		Departure:      "Douala",
		Arrival:        "Yaounde",
		DepartureAt:    time.Now().Add(24 * time.Hour),
		TotalSeats:     totalSeats,
		AvailableSeats: totalSeats,
		PricePerSeat:   price,
		Status:         entity.JourneyStatusScheduled,
	}
	f.store.journeys[j.ID] = j
	return j
}

// heldBooking seeds a CONFIRMED booking with a signed HELD payment, as if the
// gateway had already confirmed the charge.
func (f *fixture) heldBooking(j *entity.Journey, passengerID uuid.UUID, seats int) (*entity.Booking, *entity.Payment) {
	j.AvailableSeats -= seats

	b := &entity.Booking{
		Base:        entity.NewBase(time.Now()),
		JourneyID:   j.ID,
		PassengerID: passengerID,
		DriverID:    j.DriverID,
		Seats:       seats,
		TotalPrice:  int64(seats) * j.PricePerSeat,
		Status:      entity.BookingStatusConfirmed,
	}

	fee, payout := entity.SplitFee(b.TotalPrice, decimal.RequireFromString("0.10"))
	txID := "tx-" + b.ID.String()
	p := &entity.Payment{
		Base:             entity.NewBase(time.Now()),
		Reference:        "RSP-" + b.ID.String(),
		BookingID:        b.ID,
		JourneyID:        j.ID,
		PassengerID:      passengerID,
		DriverID:         j.DriverID,
		Amount:           b.TotalPrice,
		PlatformFee:      fee,
		DriverPayout:     payout,
		Currency:         "XAF",
		Method:           entity.PaymentMethodMobileMoneyA,
		Status:           entity.PaymentStatusHeld,
		TransactionID:    &txID,
		SettlementStatus: entity.SettlementStatusNone,
	}
	p.Sign(testHashSecret)
	b.PaymentID = &p.ID

	f.store.bookings[b.ID] = b
	f.store.payments[p.ID] = p
	return b, p
}

func (f *fixture) payment(id uuid.UUID) *entity.Payment {
	p, _ := f.store.repository().Payment.FindByID(context.Background(), id)
	return p
}

func (f *fixture) booking(id uuid.UUID) *entity.Booking {
	b, _ := f.store.repository().Booking.FindByID(context.Background(), id)
	return b
}

func (f *fixture) journeyByID(id uuid.UUID) *entity.Journey {
	j, _ := f.store.repository().Journey.FindByID(context.Background(), id)
	return j
}
