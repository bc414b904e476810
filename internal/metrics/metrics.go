// Package metrics holds the Prometheus collectors of the booking backend
// and the checkout front end.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aimtravel_search_requests_total",
			Help: "Flight searches by outcome and cache status",
		},
		[]string{"outcome", "cache"},
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aimtravel_search_results",
			Help:    "Number of offers returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	PaymentSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aimtravel_payment_sessions_total",
			Help: "Payment sessions by outcome",
		},
		[]string{"outcome"},
	)

	PaymentEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aimtravel_payment_events_total",
			Help: "Payment events emitted by type",
		},
		[]string{"type"},
	)

	OrdersFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aimtravel_orders_finalized_total",
			Help: "Order finalizations by outcome",
		},
		[]string{"outcome"},
	)

	PushSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aimtravel_push_subscribers",
			Help: "Open push channel subscriptions",
		},
	)

	CheckoutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aimtravel_checkout_transitions_total",
			Help: "Checkout state machine transitions",
		},
		[]string{"from", "to"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aimtravel_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchRequestsTotal,
		SearchResults,
		PaymentSessionsTotal,
		PaymentEventsTotal,
		OrdersFinalizedTotal,
		PushSubscribers,
		CheckoutTransitionsTotal,
		RequestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
