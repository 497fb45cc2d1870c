// Package metrics exposes prometheus collectors for transformation
// outcomes. A single Collector is shared by all streams.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks per-direction transformation outcomes.
type Collector struct {
	registry *prometheus.Registry

	transformsTotal   *prometheus.CounterVec
	transformErrors   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	bodyBytes         *prometheus.HistogramVec
	reloadsTotal      prometheus.Counter
	reloadFailures    prometheus.Counter
}

// NewCollector builds a Collector with its own registry, so tests can create
// collectors without colliding on the default registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morph_transforms_total",
			Help: "Transformations applied, by direction and result.",
		}, []string{"direction", "result"}),
		transformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morph_transform_errors_total",
			Help: "Transformation failures, by direction and error kind.",
		}, []string{"direction", "kind"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "morph_transform_duration_seconds",
			Help:    "Time spent applying a transformation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
		bodyBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "morph_buffered_body_bytes",
			Help:    "Body bytes buffered before transforming.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"direction"}),
		reloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "morph_config_reloads_total",
			Help: "Successful configuration reloads.",
		}),
		reloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "morph_config_reload_failures_total",
			Help: "Configuration reloads rejected by validation or compilation.",
		}),
	}
	reg.MustRegister(
		c.transformsTotal,
		c.transformErrors,
		c.transformDuration,
		c.bodyBytes,
		c.reloadsTotal,
		c.reloadFailures,
	)
	return c
}

// RecordTransform records one completed transformation attempt.
func (c *Collector) RecordTransform(direction, result string, seconds float64) {
	c.transformsTotal.WithLabelValues(direction, result).Inc()
	c.transformDuration.WithLabelValues(direction).Observe(seconds)
}

// RecordError records a transformation failure by error kind.
func (c *Collector) RecordError(direction, kind string) {
	c.transformErrors.WithLabelValues(direction, kind).Inc()
}

// RecordBodyBytes records how much body was buffered before transforming.
func (c *Collector) RecordBodyBytes(direction string, n int) {
	c.bodyBytes.WithLabelValues(direction).Observe(float64(n))
}

// RecordReload records a configuration reload outcome.
func (c *Collector) RecordReload(ok bool) {
	if ok {
		c.reloadsTotal.Inc()
	} else {
		c.reloadFailures.Inc()
	}
}

// Handler returns the prometheus exposition handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
