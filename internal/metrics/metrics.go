// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_payment_transitions_total",
			Help: "Payment state transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_settlements_total",
			Help: "Gateway settlement calls after release or refund",
		},
		[]string{"kind", "outcome"},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "status"},
	)

	seatReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_seat_reservations_total",
			Help: "Seat reservation attempts, split by whether the guard accepted them",
		},
		[]string{"result"},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Inbound gateway webhooks by handling result",
		},
		[]string{"result"},
	)

	chatSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_live_sessions",
			Help: "Currently connected chat sessions",
		},
	)

	chatMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages persisted",
		},
	)
)

func init() {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "app_goroutines",
			Help: "Number of goroutines in the process",
		},
		func() float64 { return float64(runtime.NumGoroutine()) },
	)
}

func TrackPaymentTransition(to string, applied bool) {
	outcome := "applied"
	if !applied {
		outcome = "conflict"
	}
	paymentTransitions.WithLabelValues(to, outcome).Inc()
}

func TrackSettlement(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	settlements.WithLabelValues(kind, outcome).Inc()
}

func ObserveGateway(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayLatency.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

func TrackSeatReservation(accepted bool) {
	result := "reserved"
	if !accepted {
		result = "rejected"
	}
	seatReservations.WithLabelValues(result).Inc()
}

func TrackWebhook(result string) {
	webhooks.WithLabelValues(result).Inc()
}

func ChatSessionOpened() { chatSessions.Inc() }

func ChatSessionClosed() { chatSessions.Dec() }

func TrackChatMessage() { chatMessages.Inc() }
