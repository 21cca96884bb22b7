package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeKey struct{}

// HTTPServerMetrics instruments the API with promhttp and serves the
// registry it writes to.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// NewHTTPServerMetrics registers request metrics on registry. A nil registry
// gets a fresh one.
func NewHTTPServerMetrics(registry *prometheus.Registry, service string) *HTTPServerMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"service": service}

	m := &HTTPServerMetrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ar",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: labels,
		}, []string{"code", "method", "route"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "ar",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: labels,
		}, []string{"method", "route"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "ar",
			Subsystem:   "http",
			Name:        "response_size_bytes",
			Help:        "Response body size by route. Context payloads grow with the retrieval limit.",
			Buckets:     prometheus.ExponentialBuckets(256, 4, 7),
			ConstLabels: labels,
		}, []string{"route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ar",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Requests currently being served.",
			ConstLabels: labels,
		}),
	}
	registry.MustRegister(m.requests, m.duration, m.responseSize, m.inFlight)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request under its normalized route.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	route := promhttp.WithLabelFromCtx("route", func(ctx context.Context) string {
		r, _ := ctx.Value(routeKey{}).(string)
		return r
	})

	instrumented := promhttp.InstrumentHandlerInFlight(m.inFlight,
		promhttp.InstrumentHandlerDuration(m.duration,
			promhttp.InstrumentHandlerCounter(m.requests,
				promhttp.InstrumentHandlerResponseSize(m.responseSize, next, route),
				route),
			route),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), routeKey{}, normalizePath(r.URL.Path))
		instrumented.ServeHTTP(w, r.WithContext(ctx))
	})
}

// normalizePath keeps label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/cache/"):
		return "/v1/cache/{op}"
	case strings.HasPrefix(path, "/v1/"), path == "/healthz", path == "/metrics", path == "/mcp":
		return path
	default:
		return "other"
	}
}
