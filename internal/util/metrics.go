package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations applied locally",
	}, []string{"op"})

	CartRevertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reverts_total",
		Help: "Total number of cart mutations reverted to server state",
	}, []string{"op"})

	CartRevertFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_revert_fetch_failures_total",
		Help: "Total number of revert fetches that themselves failed",
	})

	GuestCartsRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guest_carts_restored_total",
		Help: "Total number of guest carts restored from Redis",
	})

	DisputeActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispute_actions_total",
		Help: "Total number of dispute actions sent upstream",
	}, []string{"action", "outcome"})

	OfferValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offer_validation_rejections_total",
		Help: "Total number of offers rejected before any network call",
	}, []string{"reason"})

	DeadlineExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispute_deadline_expiries_total",
		Help: "Total number of watched dispute deadlines seen expiring",
	})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Latency of marketplace API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_errors_total",
		Help: "Total number of failed marketplace API requests",
	}, []string{"endpoint"})

	ActivityEventsJournaled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_events_journaled_total",
		Help: "Total number of activity events written to the journal",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
