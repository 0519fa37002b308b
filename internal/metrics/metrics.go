// Package metrics exposes Prometheus instrumentation for a coreindexer
// process: per-core progress, batch throughput, and the driver's
// lifecycle state transitions.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Remaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coreindexer_remaining_entries",
			Help: "Entries known but not yet indexed, across all cores",
		},
	)

	EntriesPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coreindexer_entries_per_second",
			Help: "Exponential moving average of indexed entries per second",
		},
	)

	EntriesIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreindexer_entries_indexed_total",
			Help: "Total number of entries indexed, by core discovery id",
		},
		[]string{"discovery_id"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreindexer_batch_duration_seconds",
			Help:    "Time taken to run the batch callback over one batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coreindexer_batch_errors_total",
			Help: "Total number of batch callback failures",
		},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreindexer_state_transitions_total",
			Help: "Total number of driver state transitions, by target state",
		},
		[]string{"state"},
	)

	CoresAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coreindexer_cores_added_total",
			Help: "Total number of cores added to the driver",
		},
	)

	CoreReadinessFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coreindexer_core_readiness_failures_total",
			Help: "Total number of cores that failed readiness during AddCore",
		},
	)

	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coreindexer_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coreindexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coreindexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// EntriesIndexedInc records n entries indexed for discoveryID.
func EntriesIndexedInc(discoveryID string, n int) {
	EntriesIndexed.WithLabelValues(discoveryID).Add(float64(n))
}

// BatchDurationObserve records the wall-clock time the batch callback
// spent on one batch.
func BatchDurationObserve(d time.Duration) {
	BatchDuration.Observe(d.Seconds())
}

// StateTransitionInc records a transition into state.
func StateTransitionInc(state string) {
	StateTransitions.WithLabelValues(state).Inc()
}

// UpdateSystemMetrics updates runtime system metrics. Intended to be
// called periodically by a Server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
