// Package metrics provides Prometheus metrics export for the AI
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Query metrics
	queryLatency  *prometheus.HistogramVec
	queryRequests *prometheus.CounterVec
	queryActive   prometheus.Gauge

	// LLM metrics
	llmTokensUsed *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	llmFailures   *prometheus.CounterVec

	// Retrieval metrics
	searchLatency  *prometheus.HistogramVec
	chunksIngested *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Guard metrics
	guardDenials *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "query_latency_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"intent", "agent"},
	)

	e.queryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "query_requests_total",
			Help:      "Total number of queries handled",
		},
		[]string{"intent", "agent", "status"},
	)

	e.queryActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "query_active",
			Help:      "Number of queries currently in flight",
		},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "llm_latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "complexity"},
	)

	e.llmFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "llm_failures_total",
			Help:      "Total LLM provider failures",
		},
		[]string{"model", "error_type"},
	)

	e.searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "vector_search_latency_seconds",
			Help:      "Vector search latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.chunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "chunks_ingested_total",
			Help:      "Total chunks embedded and stored",
		},
		[]string{"source_type"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.guardDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasage",
			Subsystem: "ai",
			Name:      "guard_denials_total",
			Help:      "Total raw dataset access denials",
		},
		[]string{"caller"},
	)

	registry.MustRegister(
		e.queryLatency,
		e.queryRequests,
		e.queryActive,
		e.llmTokensUsed,
		e.llmLatency,
		e.llmFailures,
		e.searchLatency,
		e.chunksIngested,
		e.cacheHits,
		e.cacheMisses,
		e.guardDenials,
	)

	return e
}

// RecordQuery records a handled query.
func (e *PrometheusExporter) RecordQuery(intent, agent string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.queryRequests.WithLabelValues(intent, agent, status).Inc()
	e.queryLatency.WithLabelValues(intent, agent).Observe(latency.Seconds())
}

// QueryStarted increments the in-flight gauge.
func (e *PrometheusExporter) QueryStarted() {
	e.queryActive.Inc()
}

// QueryFinished decrements the in-flight gauge.
func (e *PrometheusExporter) QueryFinished() {
	e.queryActive.Dec()
}

// RecordLLMCall records token usage and latency for an LLM call.
func (e *PrometheusExporter) RecordLLMCall(model, complexity string, tokens int, latency time.Duration) {
	e.llmTokensUsed.WithLabelValues(model).Add(float64(tokens))
	e.llmLatency.WithLabelValues(model, complexity).Observe(latency.Seconds())
}

// RecordLLMFailure records a provider failure.
func (e *PrometheusExporter) RecordLLMFailure(model, errorType string) {
	e.llmFailures.WithLabelValues(model, errorType).Inc()
}

// RecordVectorSearch records a vector search latency.
func (e *PrometheusExporter) RecordVectorSearch(kind string, latency time.Duration) {
	e.searchLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordChunksIngested records stored chunks.
func (e *PrometheusExporter) RecordChunksIngested(sourceType string, count int) {
	e.chunksIngested.WithLabelValues(sourceType).Add(float64(count))
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordGuardDenial records a denied raw dataset access.
func (e *PrometheusExporter) RecordGuardDenial(caller string) {
	e.guardDenials.WithLabelValues(caller).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
