// Package metrics holds the Prometheus collectors of the storefront API.
// Every method is safe on a nil receiver so components can run without metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

type Metrics struct {
	ordersPlaced      *prometheus.CounterVec
	placeDuration     prometheus.Histogram
	reservations      *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	statusUpdates     *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	idempotentReplays prometheus.Counter
}

// New registers the collectors on reg. A nil registerer yields a no-op value.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Order placement attempts by outcome code.",
		}, []string{"outcome"}),
		placeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_place_duration_seconds",
			Help:      "Duration of order placement including reservation and persistence.",
			Buckets:   prometheus.DefBuckets,
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservations_total",
			Help:      "Conditional stock decrements by result.",
		}, []string{"result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_compensations_total",
			Help:      "Compensation runs releasing reserved stock, by result.",
		}, []string{"result"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_updates_total",
			Help:      "Order status changes by target status.",
		}, []string{"status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Order events handed to the broker by type and result.",
		}, []string{"type", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		idempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_idempotent_replays_total",
			Help:      "Order creations answered from a stored idempotency key.",
		}),
	}
	reg.MustRegister(
		m.ordersPlaced, m.placeDuration, m.reservations, m.compensations,
		m.statusUpdates, m.eventsPublished, m.httpRequests, m.httpDuration, m.idempotentReplays,
	)
	return m
}

// ObservePlaceOrder records one placement attempt. outcome is "ok" or an error code.
func (m *Metrics) ObservePlaceOrder(outcome string, d time.Duration) {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(label(outcome)).Inc()
	m.placeDuration.Observe(d.Seconds())
}

func (m *Metrics) IncReservation(result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(label(result)).Inc()
}

func (m *Metrics) IncCompensation(ok bool) {
	if m == nil || m.compensations == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStatusUpdate(status string) {
	if m == nil || m.statusUpdates == nil {
		return
	}
	m.statusUpdates.WithLabelValues(label(status)).Inc()
}

func (m *Metrics) IncEventPublished(eventType string, err error) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.eventsPublished.WithLabelValues(label(eventType), result).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	route = label(route)
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) IncIdempotentReplay() {
	if m == nil || m.idempotentReplays == nil {
		return
	}
	m.idempotentReplays.Inc()
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
