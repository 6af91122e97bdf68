package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by route pattern
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lenslink",
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests served",
		},
		[]string{"service", "method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lenslink",
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	// BookingTransitions counts applied status transitions
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lenslink",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by source and target status",
		},
		[]string{"from", "to"},
	)

	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lenslink",
		Name:      "booking_transition_conflicts_total",
		Help:      "Status transitions rejected because another transition won",
	})

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lenslink",
			Name:      "location_updates_total",
			Help:      "Live position upserts and clears",
		},
		[]string{"op", "role"},
	)

	PaymentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lenslink",
			Name:      "payment_calls_total",
			Help:      "Calls to the payment processor by operation and result",
		},
		[]string{"op", "result"},
	)
)
