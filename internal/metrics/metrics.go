package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the tax service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	computeTotal       *prometheus.CounterVec
	computeDuration    prometheus.Histogram
	computeLines       prometheus.Histogram
	cacheRequests      *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "taxcore"
	}

	m := &Metrics{
		computeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_compute_total",
				Help:      "Tax computations by outcome",
			},
			[]string{"outcome"},
		),
		computeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tax_compute_duration_seconds",
				Help:      "Duration of tax computations including resolution",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		computeLines: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tax_compute_lines",
				Help:      "Number of cascade lines per computation",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_cache_requests_total",
				Help:      "Cache lookups by cache name and result",
			},
			[]string{"cache", "result"},
		),
		cacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_cache_invalidations_total",
				Help:      "Cache invalidation attempts by outcome",
			},
			[]string{"outcome"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
	}

	reg.MustRegister(
		m.computeTotal,
		m.computeDuration,
		m.computeLines,
		m.cacheRequests,
		m.cacheInvalidations,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// ObserveCompute records one computation.
func (m *Metrics) ObserveCompute(outcome string, lines int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.computeTotal.WithLabelValues(outcome).Inc()
	m.computeDuration.Observe(elapsed.Seconds())
	if outcome == "ok" {
		m.computeLines.Observe(float64(lines))
	}
}

// CacheHit and CacheMiss count lookups of the named cache.
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

// Invalidation counts an invalidation attempt ("ok", "retry", "failed").
func (m *Metrics) Invalidation(outcome string) {
	if m == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(outcome).Inc()
}

// GinMiddleware records request count and latency, labelled by route pattern
// so path parameters do not blow up cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
