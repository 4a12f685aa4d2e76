// Package metrics exposes gateway operation metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platewise/imagegate/pkg/types"
)

// Collector registers and records the gateway's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	uploadCounter     *prometheus.CounterVec
	uploadDuration    *prometheus.HistogramVec
	uploadBytes       *prometheus.HistogramVec
	fallbackDepth     prometheus.Histogram
	cacheHitCounter   *prometheus.CounterVec
	cacheMissCounter  prometheus.Counter
	quotaDenials      *prometheus.CounterVec
	deleteCounter     *prometheus.CounterVec
	providerAvailable *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "imagegate"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		uploadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "End-to-end upload duration by backend",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		uploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Uploaded payload sizes by backend",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"backend"}),
		fallbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_fallback_depth",
			Help:      "How many backends were attempted before an upload succeeded or failed",
			Buckets:   []float64{1, 2, 3, 4},
		}),
		cacheHitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_hits_total",
			Help:      "Metadata cache hits by tier (memory or store)",
		}, []string{"tier"}),
		cacheMissCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_misses_total",
			Help:      "Metadata lookups that missed every tier",
		}),
		quotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Admission-control denials by backend",
		}, []string{"backend"}),
		deleteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Delete operations by backend and outcome",
		}, []string{"backend", "outcome"}),
		providerAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "Whether a backend's last availability probe succeeded (1) or failed (0)",
		}, []string{"backend"}),
	}

	registry.MustRegister(
		c.uploadCounter,
		c.uploadDuration,
		c.uploadBytes,
		c.fallbackDepth,
		c.cacheHitCounter,
		c.cacheMissCounter,
		c.quotaDenials,
		c.deleteCounter,
		c.providerAvailable,
	)

	return c
}

// RecordUpload records one finished upload call.
func (c *Collector) RecordUpload(backend types.Backend, success bool, duration time.Duration, bytes int64, attempts int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.uploadCounter.WithLabelValues(string(backend), outcome).Inc()
	c.uploadDuration.WithLabelValues(string(backend)).Observe(duration.Seconds())
	if success {
		c.uploadBytes.WithLabelValues(string(backend)).Observe(float64(bytes))
	}
	if attempts > 0 {
		c.fallbackDepth.Observe(float64(attempts))
	}
}

// RecordCacheHit records a metadata read served from the given tier.
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHitCounter.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a metadata read that missed every tier.
func (c *Collector) RecordCacheMiss() {
	c.cacheMissCounter.Inc()
}

// RecordQuotaDenial records an admission-control rejection.
func (c *Collector) RecordQuotaDenial(backend types.Backend) {
	c.quotaDenials.WithLabelValues(string(backend)).Inc()
}

// RecordDelete records one delete call against a backend.
func (c *Collector) RecordDelete(backend types.Backend, confirmed bool) {
	outcome := "confirmed"
	if !confirmed {
		outcome = "unconfirmed"
	}
	c.deleteCounter.WithLabelValues(string(backend), outcome).Inc()
}

// SetProviderAvailable publishes a backend's probe verdict.
func (c *Collector) SetProviderAvailable(backend types.Backend, available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	c.providerAvailable.WithLabelValues(string(backend)).Set(value)
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
