package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// askRequestsTotal counts completed /api/ask requests, partitioned by
	// outcome: "ok", "validation", "timeout", "model", ...
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each /api/ask
	// request, retrieval and summarization included.
	askDurationSeconds *prometheus.HistogramVec

	// fragmentsIngestedTotal counts fragments stored through the API.
	fragmentsIngestedTotal prometheus.Counter

	// fragmentsSkippedTotal counts fragments dropped because embedding failed.
	fragmentsSkippedTotal prometheus.Counter

	// corpusFragments is the number of fragments in the current session.
	corpusFragments prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected with 429.
	rateLimitedTotal prometheus.Counter
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, keeping unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask requests including summarization.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		fragmentsIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ingest",
			Name:      "fragments_total",
			Help:      "Total number of fragments embedded and stored.",
		}),

		fragmentsSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ingest",
			Name:      "fragments_skipped_total",
			Help:      "Total number of fragments dropped because their embedding failed.",
		}),

		corpusFragments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbase",
			Subsystem: "corpus",
			Name:      "fragments",
			Help:      "Number of fragments held by the current session.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the per-client rate limit.",
		}),
	}
}

// instrument wraps next so every request updates the http_* metrics under
// the given handler name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
