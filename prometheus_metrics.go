package ecgstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	registry   prometheus.Registerer
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, uses the default Prometheus registerer
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) registerDefaultMetrics() {
	factory := promauto.With(p.registry)

	p.counters[MetricCacheHits] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"entity"},
	)

	p.counters[MetricCacheMisses] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"entity"},
	)

	p.counters[MetricCacheErrors] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of swallowed cache failures",
		},
		[]string{"entity"},
	)

	p.counters[MetricCacheInvalidations] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidation fan-outs",
		},
		[]string{"entity"},
	)

	p.counters[MetricCacheInvalidateError] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "cache",
			Name:      "invalidation_errors_total",
			Help:      "Total number of failed cache invalidations",
		},
		[]string{"entity"},
	)

	p.counters[MetricUpdateRetries] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "repository",
			Name:      "update_retries_total",
			Help:      "Total number of optimistic update retry attempts",
		},
		[]string{"entity"},
	)

	p.counters[MetricUpdateConflicts] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecgstore",
			Subsystem: "repository",
			Name:      "update_conflicts_total",
			Help:      "Total number of optimistic update conflicts",
		},
		[]string{"entity"},
	)

	p.histograms[MetricQueryDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecgstore",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query execution duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"entity"},
	)

	p.histograms[MetricQueryResults] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecgstore",
			Subsystem: "query",
			Name:      "results",
			Help:      "Number of documents matched per query",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"entity"},
	)

	p.histograms[MetricDocGetDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecgstore",
			Subsystem: "docstore",
			Name:      "get_duration_seconds",
			Help:      "Document read duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	p.histograms[MetricDocPutDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecgstore",
			Subsystem: "docstore",
			Name:      "put_duration_seconds",
			Help:      "Document write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity"},
	)
}

// tagValue extracts the first tag value, defaulting to "all".
// Registered vecs carry a single "entity" label.
func tagValue(tags []string) string {
	if len(tags) >= 2 {
		return tags[1]
	}
	return "all"
}

func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	if c, ok := p.counters[name]; ok {
		c.WithLabelValues(tagValue(tags)).Inc()
	}
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	// No gauges registered by default
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	if h, ok := p.histograms[name]; ok {
		h.WithLabelValues(tagValue(tags)).Observe(value)
	}
}

func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	if h, ok := p.histograms[name]; ok {
		h.WithLabelValues(tagValue(tags)).Observe(duration.Seconds())
	}
}
