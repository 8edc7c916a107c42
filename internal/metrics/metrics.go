// Package metrics provides Prometheus instrumentation for the arbitrage
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TickDuration observes end-to-end tick latency.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_tick_duration_seconds",
		Help:    "Tick duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// JobFailures counts jobs that aborted with a persistence error.
	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_job_failures_total",
		Help: "Tick jobs that failed",
	}, []string{"job"})

	// OpportunitiesTotal counts detector outcomes by strategy type.
	OpportunitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_opportunities_total",
		Help: "Detector outcomes by opportunity type",
	}, []string{"type", "outcome"})

	// PositionsOpened counts positions opened by strategy.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_positions_opened_total",
		Help: "Paper positions opened",
	}, []string{"strategy"})

	// PositionsClosed counts positions closed by strategy and reason.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_positions_closed_total",
		Help: "Paper positions closed",
	}, []string{"strategy", "reason"})

	// RerankCalls counts external re-ranker consultations by outcome.
	RerankCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_rerank_calls_total",
		Help: "External re-ranker calls by outcome",
	}, []string{"outcome"})

	// ReservedCapital tracks reserved USD per account.
	ReservedCapital = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbiter_reserved_capital_usd",
		Help: "Capital reserved by open positions",
	}, []string{"account"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbiter_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "route"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics. The route label is the matched
// ServeMux pattern, falling back to "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
