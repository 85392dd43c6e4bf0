package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache lookups by result: hit | miss | error.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Response cache lookups by result.",
		},
		[]string{"result"},
	)

	// Outbound provider calls by mode (complete|stream) and outcome.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound LLM provider requests by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	ProviderRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Retries scheduled after rate-limited provider responses.",
		},
	)

	ProviderLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Latency of outbound provider calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 50},
		},
		[]string{"mode"},
	)

	// Gate rejections by reason: entitlement | quota.
	GateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_rejections_total",
			Help: "Requests rejected by the entitlement/quota gate.",
		},
		[]string{"reason"},
	)

	UsageIncrementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_increments_total",
			Help: "Daily usage counter increments after successful requests.",
		},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "command_validation_failures_total",
			Help: "Model outputs rejected by the command validator, by command kind.",
		},
		[]string{"kind"},
	)

	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Stream relay events emitted, by event kind.",
		},
		[]string{"kind"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"route", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			ProviderRequestsTotal,
			ProviderRetriesTotal,
			ProviderLatencySeconds,
			GateRejectionsTotal,
			UsageIncrementsTotal,
			ValidationFailuresTotal,
			StreamEventsTotal,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The route label
// is the chi pattern so URL params do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// chi's wrapper keeps http.Flusher available for SSE responses.
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
