// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one server. Each server owns
// its registry so several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeStreams  prometheus.Gauge
	steps          prometheus.Counter
	toolCalls      *prometheus.CounterVec
	providerErrors prometheus.Counter
}

// NewMetrics creates and registers the server collectors, plus the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"method", "route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_http_request_duration_seconds",
				Help:    "HTTP request duration, including the full stream.",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_streams",
			Help: "Completion streams currently open.",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_model_steps_total",
			Help: "Model steps started across all completions.",
		}),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_tool_calls_total",
				Help: "Tool calls requested by the model, by outcome.",
			},
			[]string{"tool", "outcome"},
		),
		providerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_provider_errors_total",
			Help: "Model provider failures reported to clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.activeStreams,
		m.steps,
		m.toolCalls,
		m.providerErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observe records one finished request.
func (m *Metrics) observe(method, route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// MetricsMiddleware records request counts and durations.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			m.observe(r.Method, routeLabel(r), wrapped.statusCode, time.Since(start))
		})
	}
}

// routeLabel keeps label cardinality bounded by collapsing unknown paths.
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/completion", "/health", "/metrics":
		return r.URL.Path
	}
	return "other"
}
