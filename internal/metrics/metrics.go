package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barbercal",
			Name:      "booking_operations_total",
			Help:      "Count of booking operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	bookingRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barbercal",
			Name:      "booking_retries_total",
			Help:      "Count of automatic booking retries after a concurrent write.",
		},
		[]string{"operation"},
	)

	bookingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "barbercal",
			Name:      "booking_operation_seconds",
			Help:      "Latency of booking operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	seriesOccurrences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barbercal",
			Name:      "series_occurrences_total",
			Help:      "Count of recurring occurrences by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "barbercal",
			Name:      "http_request_seconds",
			Help:      "Latency of HTTP requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	dispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "barbercal",
			Name:      "dispatch_dropped_total",
			Help:      "Count of post-commit tasks dropped because the queue was full.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingOutcome, bookingRetries, bookingDuration, seriesOccurrences, httpRequests, dispatchDropped)
	})
}

func IncBookingOutcome(operation, outcome string) {
	bookingOutcome.WithLabelValues(operation, outcome).Inc()
}

func IncBookingRetry(operation string) {
	bookingRetries.WithLabelValues(operation).Inc()
}

func ObserveBookingDuration(operation string, seconds float64) {
	bookingDuration.WithLabelValues(operation).Observe(seconds)
}

func IncSeriesOccurrence(outcome string) {
	seriesOccurrences.WithLabelValues(outcome).Inc()
}

func ObserveHTTPRequest(method, route string, status int, seconds float64) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

func IncDispatchDropped() {
	dispatchDropped.Inc()
}
