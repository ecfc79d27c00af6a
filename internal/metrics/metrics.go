package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_payment_intents_total",
		Help: "Payment intents requested, labelled by result.",
	}, []string{"result"})

	TransfersAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_transfers_total",
		Help: "Sweeper transfer outcomes: transferred, rejected, indeterminate, dead_lettered, skipped.",
	}, []string{"outcome"})

	TransfersReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_reconciled_total",
		Help: "Reconciler outcomes: confirmed, reverted, pending, failed.",
	}, []string{"outcome"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payouts_run_duration_seconds",
		Help:    "Wall time of a sweep or reconcile run.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"run"})

	OutboxRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_outbox_relayed_total",
		Help: "Outbox messages relayed to Kafka, labelled by status.",
	}, []string{"status"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_emails_sent_total",
		Help: "Booking confirmation emails, labelled by status.",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_http_requests_total",
		Help: "HTTP requests, labelled by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payouts_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
