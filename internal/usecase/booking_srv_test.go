package usecase

import (
	"context"
	"sync"
	"testing"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/dto/request"
	"rideshare-escrow/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_ConcurrentRequestsNeverOversell(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 3, 1000)

	const passengers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		booked   int
		rejected int
	)
	for i := 0; i < passengers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.services.Booking.CreateBooking(context.Background(), uuid.New(), &request.CreateBookingRequest{
				JourneyID: j.ID.String(),
				Seats:     1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				booked++
				return
			}
			assert.ErrorIs(t, err, ErrStateConflict)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, booked)
	assert.Equal(t, passengers-3, rejected)
	assert.Equal(t, 0, f.journeyByID(j.ID).AvailableSeats)
}

func TestCreateBooking_Guards(t *testing.T) {
	f := newFixture(t)
	driver := uuid.New()
	j := f.journey(driver, 2, 1000)
	ctx := context.Background()

	_, err := f.services.Booking.CreateBooking(ctx, driver, &request.CreateBookingRequest{JourneyID: j.ID.String(), Seats: 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.services.Booking.CreateBooking(ctx, uuid.New(), &request.CreateBookingRequest{JourneyID: j.ID.String(), Seats: 3})
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = f.services.Booking.CreateBooking(ctx, uuid.New(), &request.CreateBookingRequest{JourneyID: uuid.NewString(), Seats: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	resp, err := f.services.Booking.CreateBooking(ctx, uuid.New(), &request.CreateBookingRequest{JourneyID: j.ID.String(), Seats: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), resp.TotalPrice)
	assert.Equal(t, entity.BookingStatusPendingPayment, resp.Status)
}

func TestCancelBooking_RefundsHeldPayment(t *testing.T) {
	f := newFixture(t)
	passenger := uuid.New()
	j := f.journey(uuid.New(), 4, 1500)
	b, held := f.heldBooking(j, passenger, 2)
	ctx := context.Background()
	require.Equal(t, 2, f.journeyByID(j.ID).AvailableSeats)

	resp, err := f.services.Booking.CancelBooking(ctx, b.ID, passenger)
	require.NoError(t, err)

	assert.True(t, resp.Refunded)
	assert.Equal(t, entity.BookingStatusCancelled, resp.Booking.Status)
	assert.Equal(t, entity.PaymentStatusRefunded, f.payment(held.ID).Status)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats, "seats are returned once")
	assert.Equal(t, []string{*held.TransactionID}, f.gateway.refunds)

	_, err = f.services.Booking.CancelBooking(ctx, b.ID, passenger)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats)
}

func TestCancelBooking_PendingPaymentRefundedOnConfirmation(t *testing.T) {
	f := newFixture(t)
	passenger := uuid.New()
	j := f.journey(uuid.New(), 4, 1000)
	b := f.pendingBooking(t, j, passenger, 1)
	ctx := context.Background()

	initiated, err := f.services.Payment.Initiate(ctx, passenger, mobileMoneyRequest(b))
	require.NoError(t, err)
	p := f.payment(uuid.MustParse(initiated.Payment.ID))

	resp, err := f.services.Booking.CancelBooking(ctx, b.ID, passenger)
	require.NoError(t, err)
	assert.False(t, resp.Refunded)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats)

	// the charge still succeeds afterwards
	f.gateway.confirm(p, *p.TransactionID)
	assert.True(t, f.services.Payment.HandleWebhook(ctx, webhook(p.Reference, *p.TransactionID, "successful")))

	assert.Equal(t, entity.PaymentStatusRefunded, f.payment(p.ID).Status)
	assert.Equal(t, entity.BookingStatusCancelled, f.booking(b.ID).Status)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats)
}

func TestCancelBooking_Guards(t *testing.T) {
	f := newFixture(t)
	driver, passenger := uuid.New(), uuid.New()
	j := f.journey(driver, 4, 1000)
	b, _ := f.heldBooking(j, passenger, 1)
	ctx := context.Background()

	_, err := f.services.Booking.CancelBooking(ctx, b.ID, uuid.New())
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.services.Journey.StartJourney(ctx, j.ID, driver)
	require.NoError(t, err)

	_, err = f.services.Booking.CancelBooking(ctx, b.ID, passenger)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestGetBooking_ParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	driver, passenger := uuid.New(), uuid.New()
	j := f.journey(driver, 4, 1000)
	b, held := f.heldBooking(j, passenger, 1)
	ctx := context.Background()

	resp, err := f.services.Booking.GetBooking(ctx, passenger, utils.RolePassenger, b.ID)
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, held.ID.String(), resp.Payment.ID)

	_, err = f.services.Booking.GetBooking(ctx, driver, utils.RoleDriver, b.ID)
	assert.NoError(t, err)

	_, err = f.services.Booking.GetBooking(ctx, uuid.New(), utils.RolePassenger, b.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
