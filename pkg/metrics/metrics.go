package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Cache content metrics
	ObjectsCached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_objects_cached_total",
			Help: "Total number of objects restored into the cache",
		},
	)

	ObjectsUncached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_objects_uncached_total",
			Help: "Total number of objects explicitly removed from the cache",
		},
	)

	ObjectsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_objects_evicted_total",
			Help: "Total number of objects evicted to make room",
		},
	)

	ObjectsCorrupted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_objects_corrupted_total",
			Help: "Total number of objects deleted after a failed integrity check",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_cache_hits_total",
			Help: "Cache requests satisfied by an existing copy",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_cache_misses_total",
			Help: "Cache requests that required a restoration",
		},
	)

	// Volume metrics
	VolumeUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "midden_volume_used_bytes",
			Help: "Bytes of live objects per cache volume",
		},
		[]string{"volume"},
	)

	VolumeFileCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "midden_volume_files",
			Help: "Number of live objects per cache volume",
		},
		[]string{"volume"},
	)

	// Restoration metrics
	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "midden_restore_duration_seconds",
			Help:    "Time taken to restore one object from the archive in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RestoreFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_restore_failures_total",
			Help: "Total number of failed restorations",
		},
	)

	// Worker metrics
	MonitorCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_monitor_cycles_total",
			Help: "Total number of completed integrity sweep cycles",
		},
	)

	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "midden_monitor_cycle_duration_seconds",
			Help:    "Duration of one integrity sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "midden_restore_queue_depth",
			Help: "Number of pending entries in the restore queue",
		},
	)

	QueueItemsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "midden_restore_queue_items_total",
			Help: "Total number of restore queue entries processed",
		},
	)
)

func init() {
	prometheus.MustRegister(ObjectsCached)
	prometheus.MustRegister(ObjectsUncached)
	prometheus.MustRegister(ObjectsEvicted)
	prometheus.MustRegister(ObjectsCorrupted)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(VolumeUsedBytes)
	prometheus.MustRegister(VolumeFileCount)
	prometheus.MustRegister(RestoreDuration)
	prometheus.MustRegister(RestoreFailures)
	prometheus.MustRegister(MonitorCyclesTotal)
	prometheus.MustRegister(MonitorCycleDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueItemsProcessed)
}
