// Package metrics exposes the prometheus collectors for retrieval, resolution,
// traversal and skeleton scoring. Collectors are registered on the default
// registry and served at /metrics.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strata"

var (
	// Retrieval metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Retrieval requests by classified and used strategy",
		},
		[]string{"classified", "used"},
	)

	RetrievalDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals served without a backend",
		},
		[]string{"backend"},
	)

	RetrievalPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_phase_duration_seconds",
			Help:      "Duration of each retrieval phase",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1},
		},
		[]string{"phase"},
	)

	RetrievalTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_phase_timeouts_total",
			Help:      "Phases that returned best-effort results at their sub-deadline",
		},
		[]string{"phase"},
	)

	TenantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_violations_total",
		Help:      "Blocked cross-tenant accesses",
	})

	// Traversal metrics
	TraversalHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "traversal_hops",
		Help:      "Hops reached per traversal",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})

	TraversalTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traversal_truncated_total",
		Help:      "Traversals cut short by their deadline",
	})

	// Resolver metrics
	ResolverDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_decisions_total",
			Help:      "Entity resolution decisions by rule",
		},
		[]string{"rule"},
	)

	ReviewQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resolver_review_queue_length",
		Help:      "Ambiguous resolutions waiting for review",
	})

	// Skeleton metrics
	SkeletonRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skeleton_runs_total",
			Help:      "Skeleton recomputations by outcome",
		},
		[]string{"outcome"},
	)

	SkeletonSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skeleton_documents",
			Help:      "Documents currently in the skeleton",
		},
		[]string{"tenant_id"},
	)

	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_memory_bytes",
		Help:      "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_goroutines",
		Help:      "Number of goroutines",
	})
)

// ObservePhase records the duration of a retrieval phase.
func ObservePhase(phase string, d time.Duration) {
	RetrievalPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
