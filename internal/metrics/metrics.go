// Package metrics defines the backend's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Server holds the backend collectors.
type Server struct {
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	OrdersCreated *prometheus.CounterVec
	Webhooks      *prometheus.CounterVec
	InFlight      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Server {
	s := &Server{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Per-store order submissions by outcome (created, existing).",
		}, []string{"outcome"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Gateway notifications by outcome (accepted, duplicate, rejected).",
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_submissions_in_flight",
			Help:      "Order submissions currently being stored.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(s.Requests, s.LatencyMS, s.OrdersCreated, s.Webhooks, s.InFlight)
	return s
}

// Handler exposes the registry the collectors were registered on.
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// SetInFlight matches tracker.Tracker's OnChange hook.
func (s *Server) SetInFlight(n int64) {
	s.InFlight.Set(float64(n))
}

// OrderCreated counts one order submission.
func (s *Server) OrderCreated(created bool) {
	outcome := "existing"
	if created {
		outcome = "created"
	}
	s.OrdersCreated.WithLabelValues(outcome).Inc()
}

// Webhook counts one gateway notification by outcome.
func (s *Server) Webhook(outcome string) {
	s.Webhooks.WithLabelValues(outcome).Inc()
}
