// Package metrics provides Prometheus metrics for the completion cache
// subsystem. It tracks cache effectiveness, eviction pressure, background job
// outcomes, and provider call latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lexcache"
)

// ProviderLatencyBuckets defines histogram buckets for provider call latency
// (in seconds). Completion calls routinely take several seconds, so the upper
// range is generous.
var ProviderLatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 8.0,
	13.0, 21.0, 34.0, 55.0, 90.0, 120.0,
}

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheHits counts completion cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of completion cache hits",
		},
	)

	// CacheMisses counts completion cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of completion cache misses",
		},
	)

	// CacheEvictions counts evicted entries by reason (expired, lru, invalidated, cleared).
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of evicted cache entries by reason",
		},
		[]string{"reason"},
	)

	// CacheEntries tracks the current number of cached completions.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached completions",
		},
	)

	// CacheSizeBytes tracks the stored (post-compression) cache size.
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes (stored form)",
		},
	)
)

// =============================================================================
// Background Job Metrics
// =============================================================================

var (
	// WarmupJobs counts finished warmup jobs by outcome (completed, retried, failed).
	WarmupJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warmup_jobs_total",
			Help:      "Total number of warmup job outcomes",
		},
		[]string{"outcome"},
	)

	// InvalidationEvents counts consumed trigger events by type.
	InvalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_events_total",
			Help:      "Total number of processed invalidation events by type",
		},
		[]string{"event_type"},
	)

	// InvalidationActions counts executed invalidation actions by kind and status.
	InvalidationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_actions_total",
			Help:      "Total number of executed invalidation actions",
		},
		[]string{"action", "status"},
	)

	// RetryDispatches counts retry queue dispatches by job type and outcome.
	RetryDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_dispatches_total",
			Help:      "Total number of retry queue dispatches by outcome",
		},
		[]string{"job_type", "outcome"},
	)

	// RetryQueueDepth tracks the number of pending retry jobs.
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Current number of pending retry jobs",
		},
	)
)

// =============================================================================
// Provider Metrics
// =============================================================================

var (
	// ProviderLatency tracks AI completion call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "AI completion call latency in seconds",
			Buckets:   ProviderLatencyBuckets,
		},
		[]string{"model", "status"},
	)

	// ProviderTokens counts tokens consumed by direction (input, output).
	ProviderTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed by the AI completion provider",
		},
		[]string{"model", "direction"},
	)
)
