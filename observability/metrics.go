/*
metrics.go - Prometheus metrics for the fee tracker

PURPOSE:
  Owns a private Prometheus registry and the collectors the service
  exports on /metrics: HTTP traffic, prepared payments, and the number
  of clients currently Due per payment schedule.

SEE ALSO:
  - api/server.go: mounts Handler and Middleware
  - api/scheduler.go: sets the clients-due gauge
*/
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the service's Prometheus metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	paymentsPrepared *prometheus.CounterVec
	clientsDue       *prometheus.GaugeVec
}

// NewMetrics creates the registry and registers every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fees_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fees_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	prepared := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fees_payments_prepared_total",
		Help: "Payments accepted by the preparer, by payment schedule.",
	}, []string{"schedule"})
	due := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fees_clients_due",
		Help: "Clients with at least one unpaid period at the last status sweep.",
	}, []string{"schedule"})
	registry.MustRegister(requests, duration, prepared, due)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		paymentsPrepared: prepared,
		clientsDue:       due,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PaymentPrepared counts one accepted payment for schedule.
func (m *Metrics) PaymentPrepared(schedule string) {
	if m == nil {
		return
	}
	m.paymentsPrepared.WithLabelValues(schedule).Inc()
}

// SetClientsDue replaces the clients-due gauge with counts. Schedules
// absent from counts are reset to zero.
func (m *Metrics) SetClientsDue(counts map[string]int) {
	if m == nil {
		return
	}
	m.clientsDue.Reset()
	for schedule, n := range counts {
		m.clientsDue.WithLabelValues(schedule).Set(float64(n))
	}
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
