package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	cacheEvictions   prometheus.Counter
	opRequests       *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
	opErrors         *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "monban_decision_cache_hits_total",
			Help: "Total number of cache hits for access decisions",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "monban_decision_cache_misses_total",
			Help: "Total number of cache misses for access decisions",
		}),
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "monban_decision_cache_hit_rate",
			Help: "Current cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "monban_decision_cache_keys_current",
			Help: "Current number of keys in the decision cache",
		}),
		cacheMemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "monban_decision_cache_memory_bytes",
			Help: "Current memory usage of the decision cache in bytes",
		}),
		cacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "monban_decision_cache_evictions_total",
			Help: "Total number of cache evictions due to memory limits",
		}),
		opRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monban_operations_total",
				Help: "Total number of resolution operations",
			},
			[]string{"operation"},
		),
		opDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monban_operation_duration_seconds",
				Help:    "Duration of resolution operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		opErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monban_operation_errors_total",
				Help: "Total number of failed resolution operations",
			},
			[]string{"operation"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated at call sites, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordRequest records an operation in Prometheus.
func (e *PrometheusExporter) RecordRequest(operation string) {
	e.opRequests.WithLabelValues(operation).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(operation string, durationSeconds float64) {
	e.opDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(operation string) {
	e.opErrors.WithLabelValues(operation).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit() {
	e.cacheHits.Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss() {
	e.cacheMisses.Inc()
}

// RecordCacheEviction records a cache eviction.
func (e *PrometheusExporter) RecordCacheEviction() {
	e.cacheEvictions.Inc()
}
