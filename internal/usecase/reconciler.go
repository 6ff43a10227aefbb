package usecase

import (
	"context"
	"strings"
	"time"

	"rideshare-escrow/internal/data/entity"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/pkg/utils"

	"go.uber.org/zap"
)

const reconcileBatch = 100

// ReconcileReport counts what one sweep changed.
type ReconcileReport struct {
	Confirmed        int
	Failed           int
	SettlementsFixed int
	Released         int
	Refunded         int
	Expired          int
}

// Reconciler repairs escrow state the request path could not finish: charges
// whose webhook never came, settlements the gateway refused, and HELD payments
// left on journeys that are already closed.
type Reconciler struct {
	repo     *repository.Repository
	payments *paymentService
	interval time.Duration
	stale    time.Duration
	expiry   time.Duration
	log      *zap.Logger
}

func NewReconciler(repo *repository.Repository, payments *paymentService, config utils.ReconcileConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		payments: payments,
		interval: config.Interval,
		stale:    config.PendingStale,
		expiry:   config.PendingExpiry,
		log:      log.With(zap.String("service", "reconciler")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info("Reconciler disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reconciler started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Reconciler stopped")
			return
		case <-ticker.C:
			report := r.RunOnce(ctx)
			if report != (ReconcileReport{}) {
				r.log.Info("Reconciliation sweep", zap.Any("report", report))
			}
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) ReconcileReport {
	var report ReconcileReport
	r.verifyStalePending(ctx, &report)
	r.retrySettlements(ctx, &report)
	r.closeOrphanedEscrow(ctx, &report)
	return report
}

// verifyStalePending asks the gateway about charges that never got a webhook.
// Only a definitive answer moves the payment.
func (r *Reconciler) verifyStalePending(ctx context.Context, report *ReconcileReport) {
	pending, err := r.repo.Payment.FindStalePending(ctx, time.Now().Add(-r.stale), reconcileBatch)
	if err != nil {
		r.log.Error("Failed to list stale payments", zap.Error(err))
		return
	}

	for _, p := range pending {
		v, err := r.payments.verify(ctx, p, "")
		if err != nil {
			r.log.Warn("Verify failed", zap.Error(err), zap.String("reference", p.Reference))
			r.expire(ctx, p, report)
			continue
		}

		held, failed := r.payments.resolvePending(ctx, p, v)
		switch {
		case held:
			report.Confirmed++
		case failed:
			report.Failed++
		default:
			r.expire(ctx, p, report)
		}
	}
}

// expire fails a payment still unresolved past the expiry window so its
// booking frees up. A charge that lands after this gets refunded.
func (r *Reconciler) expire(ctx context.Context, p *entity.Payment, report *ReconcileReport) {
	if r.expiry <= 0 || time.Since(p.CreatedAt) < r.expiry {
		return
	}
	if r.payments.fail(ctx, p, "no confirmation from the gateway") {
		r.log.Warn("Pending payment expired",
			zap.String("payment_id", p.ID.String()),
			zap.String("reference", p.Reference),
			zap.Time("created_at", p.CreatedAt),
		)
		report.Expired++
	}
}

func isDefinitiveFailure(status string) bool {
	return strings.EqualFold(status, "failed") || strings.EqualFold(status, "cancelled")
}

// retrySettlements repeats transfers and refunds that failed after the state
// transition. Transfers reuse the payout reference, so the gateway can dedupe.
func (r *Reconciler) retrySettlements(ctx context.Context, report *ReconcileReport) {
	payments, err := r.repo.Payment.FindSettlementFailed(ctx, reconcileBatch)
	if err != nil {
		r.log.Error("Failed to list failed settlements", zap.Error(err))
		return
	}

	for _, p := range payments {
		if err := r.payments.settle(ctx, p); err != nil {
			r.log.Warn("Settlement retry failed", zap.Error(err), zap.String("payment_id", p.ID.String()))
			continue
		}
		report.SettlementsFixed++
	}
}

// closeOrphanedEscrow finishes HELD payments whose journey closed without them.
func (r *Reconciler) closeOrphanedEscrow(ctx context.Context, report *ReconcileReport) {
	payments, err := r.repo.Payment.FindHeldOnClosedJourneys(ctx, reconcileBatch)
	if err != nil {
		r.log.Error("Failed to list orphaned escrow", zap.Error(err))
		return
	}

	for _, p := range payments {
		journey, err := r.repo.Journey.FindByID(ctx, p.JourneyID)
		if err != nil || journey == nil {
			continue
		}

		switch journey.Status {
		case entity.JourneyStatusCancelled:
			if _, err := r.payments.refund(ctx, p.ID); err == nil {
				report.Refunded++
			}
		case entity.JourneyStatusCompleted:
			if _, err := r.payments.release(ctx, p.ID); err == nil {
				report.Released++
			}
		}
	}
}
