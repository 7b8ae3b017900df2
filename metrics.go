package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the prometheus collectors of one server
type metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	completions *prometheus.CounterVec
	runs        *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	sessions    prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"route"},
	)

	m.completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_completions_total",
			Help: "Total number of chat completion calls",
		},
		[]string{"model", "status"},
	)

	m.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_assistant_runs_total",
			Help: "Total number of assistant runs by outcome",
		},
		[]string{"status"},
	)

	m.uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_uploads_total",
			Help: "Total number of uploaded files by kind",
		},
		[]string{"kind"},
	)

	m.sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_sessions",
			Help: "Number of in-memory chat sessions",
		},
	)

	m.registry.MustRegister(
		m.requests, m.duration, m.completions, m.runs, m.uploads, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeCompletion(model string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.completions.WithLabelValues(model, status).Inc()
}

func (m *metrics) observeRun(err error) {
	status := "completed"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(status).Inc()
}

// middleware records count and latency per route pattern
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
