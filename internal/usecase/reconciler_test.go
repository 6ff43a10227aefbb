package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"rideshare-escrow/internal/data/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalePending seeds a PENDING payment old enough for the reconciler.
func (f *fixture) stalePending(t *testing.T, j *entity.Journey) *entity.Payment {
	t.Helper()
	return f.pendingSince(t, j, time.Now().Add(-time.Hour))
}

func (f *fixture) pendingSince(t *testing.T, j *entity.Journey, createdAt time.Time) *entity.Payment {
	t.Helper()
	b := f.pendingBooking(t, j, uuid.New(), 1)

	txID := "tx-stale-" + b.ID.String()
	p := &entity.Payment{
		Base:             entity.NewBase(createdAt),
		Reference:        "RSP-STALE-" + b.ID.String(),
		BookingID:        b.ID,
		JourneyID:        j.ID,
		PassengerID:      b.PassengerID,
		DriverID:         j.DriverID,
		Amount:           b.TotalPrice,
		Currency:         "XAF",
		Method:           entity.PaymentMethodMobileMoneyB,
		Status:           entity.PaymentStatusPending,
		TransactionID:    &txID,
		SettlementStatus: entity.SettlementStatusNone,
	}
	p.PlatformFee, p.DriverPayout = entity.SplitFee(p.Amount, f.payments.feeRate)
	p.Sign(testHashSecret)
	f.store.payments[p.ID] = p
	f.store.bookings[b.ID].PaymentID = &p.ID
	return p
}

func TestReconciler_ConfirmsStalePending(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.stalePending(t, j)
	f.gateway.confirm(p, *p.TransactionID)

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, entity.PaymentStatusHeld, f.payment(p.ID).Status)
	assert.Equal(t, entity.BookingStatusConfirmed, f.booking(p.BookingID).Status)
}

func TestReconciler_LeavesUnresolvedPendingAlone(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.stalePending(t, j)
	f.gateway.verifyErr = errors.New("timeout")

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Zero(t, report.Confirmed+report.Failed+report.Expired)
	assert.Equal(t, entity.PaymentStatusPending, f.payment(p.ID).Status)
}

func TestReconciler_VerifiesByReferenceWithoutTransactionID(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.stalePending(t, j)
	f.store.payments[p.ID].TransactionID = nil
	f.gateway.confirm(p, "tx-by-ref")

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Equal(t, 1, report.Confirmed)
	stored := f.payment(p.ID)
	assert.Equal(t, entity.PaymentStatusHeld, stored.Status)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, "tx-by-ref", *stored.TransactionID)
}

func TestReconciler_ExpiresPendingTheGatewayNeverResolved(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.pendingSince(t, j, time.Now().Add(-48*time.Hour))
	f.store.payments[p.ID].TransactionID = nil
	require.Equal(t, 3, f.journeyByID(j.ID).AvailableSeats)

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Equal(t, 1, report.Expired)
	stored := f.payment(p.ID)
	assert.Equal(t, entity.PaymentStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "no confirmation from the gateway", *stored.FailureReason)
	assert.Equal(t, entity.BookingStatusCancelled, f.booking(p.BookingID).Status)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats)
}

func TestReconciler_RetriesRefundOfLateCharge(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.failedAfterTimeout(t, j)
	ctx := context.Background()

	f.gateway.refundErr = errors.New("refund rail down")
	f.gateway.confirm(p, "8001")
	assert.True(t, f.services.Payment.HandleWebhook(ctx, webhook(p.Reference, "8001", "successful")))
	require.Equal(t, entity.SettlementStatusFailed, f.payment(p.ID).SettlementStatus)

	f.gateway.refundErr = nil
	report := f.services.Reconciler.RunOnce(ctx)

	assert.Equal(t, 1, report.SettlementsFixed)
	assert.Equal(t, entity.SettlementStatusDone, f.payment(p.ID).SettlementStatus)
	assert.Equal(t, []string{"8001"}, f.gateway.refunds)
}

func TestReconciler_FailsDefinitivelyFailedCharge(t *testing.T) {
	f := newFixture(t)
	j := f.journey(uuid.New(), 4, 1000)
	p := f.stalePending(t, j)
	f.gateway.confirm(p, *p.TransactionID)
	f.gateway.verifications[*p.TransactionID].Status = "failed"

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, entity.PaymentStatusFailed, f.payment(p.ID).Status)
	assert.Equal(t, 4, f.journeyByID(j.ID).AvailableSeats)
}

func TestReconciler_RetriesFailedSettlement(t *testing.T) {
	f := newFixture(t)
	f.gateway.transferErr = errors.New("payout rail down")
	j := f.journey(uuid.New(), 4, 3000)
	_, held := f.heldBooking(j, uuid.New(), 1)
	ctx := context.Background()

	_, err := f.services.Payment.Release(ctx, held.ID)
	require.NoError(t, err)
	require.Equal(t, entity.SettlementStatusFailed, f.payment(held.ID).SettlementStatus)

	f.gateway.transferErr = nil
	report := f.services.Reconciler.RunOnce(ctx)

	assert.Equal(t, 1, report.SettlementsFixed)
	stored := f.payment(held.ID)
	assert.Equal(t, entity.SettlementStatusDone, stored.SettlementStatus)
	assert.Nil(t, stored.SettlementError)
	require.Len(t, f.gateway.transfers, 1)
	assert.Equal(t, held.Reference+"-PAYOUT", f.gateway.transfers[0].Reference)
}

func TestReconciler_ClosesOrphanedEscrow(t *testing.T) {
	f := newFixture(t)
	cancelled := f.journey(uuid.New(), 4, 1000)
	completed := f.journey(uuid.New(), 4, 1000)
	_, orphanRefund := f.heldBooking(cancelled, uuid.New(), 1)
	_, orphanRelease := f.heldBooking(completed, uuid.New(), 1)
	cancelled.Status = entity.JourneyStatusCancelled
	completed.Status = entity.JourneyStatusCompleted

	report := f.services.Reconciler.RunOnce(context.Background())

	assert.Equal(t, 1, report.Refunded)
	assert.Equal(t, 1, report.Released)
	assert.Equal(t, entity.PaymentStatusRefunded, f.payment(orphanRefund.ID).Status)
	assert.Equal(t, entity.PaymentStatusReleased, f.payment(orphanRelease.ID).Status)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.services.Reconciler.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.services.Reconciler.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
