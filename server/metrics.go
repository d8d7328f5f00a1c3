package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request and device-flow counters exposed on /metrics.
// A nil *Metrics is valid everywhere it's used; every method is a no-op in
// that case, so wiring metrics is optional for callers that don't run a
// telemetry server (e.g. unit tests).
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	deviceTransition *prometheus.CounterVec
}

// NewMetrics registers the server's metric collectors against reg and
// returns the handle handlers record through.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mini_idp_http_requests_total",
			Help: "Total HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mini_idp_http_request_duration_seconds",
			Help:    "HTTP request duration by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		deviceTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mini_idp_device_flow_transitions_total",
			Help: "Device authorization flow state transitions by outcome.",
		}, []string{"transition"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.deviceTransition)
	return m
}

func (m *Metrics) observeRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, status).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) observeDeviceTransition(transition string) {
	if m == nil {
		return
	}
	m.deviceTransition.WithLabelValues(transition).Inc()
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withMetrics wraps next so every request is recorded against the matched
// mux route template (falling back to the raw path for unmatched routes).
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.observeRequest(route, r.Method, strconv.Itoa(sw.status), s.clock.Now().Sub(start))
	})
}
