// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_published_total",
			Help: "Total number of events accepted by publish",
		},
		[]string{"event_type", "priority"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_rejected_total",
			Help: "Total number of events rejected at intake",
		},
		[]string{"reason"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Total number of events fully processed",
		},
		[]string{"event_type", "status"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "End-to-end event processing duration in seconds",
			Buckets: []float64{.005, .01, .025, .04, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"event_type"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of events waiting in the priority queue",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_misses_total",
			Help: "Cache misses by tier",
		},
		[]string{"tier"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_cache_evictions_total",
			Help: "L1 entries evicted under capacity pressure",
		},
	)

	AdapterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_adapter_duration_seconds",
			Help:    "Inference adapter call duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	AdapterFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_adapter_failures_total",
			Help: "Inference adapter failures by operation and error code",
		},
		[]string{"operation", "error_code"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_breaker_state",
			Help: "Circuit breaker state per operation (0=closed, 1=half-open, 2=open)",
		},
		[]string{"operation"},
	)

	BroadcastTargeted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_broadcast_targeted_total",
			Help: "Subscriber connections targeted by broadcasts",
		},
	)

	BroadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_broadcast_delivered_total",
			Help: "Successful broadcast deliveries",
		},
	)

	BroadcastFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_broadcast_failed_total",
			Help: "Failed broadcast deliveries",
		},
	)

	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_archive_writes_total",
			Help: "Intelligence record archive writes by status",
		},
		[]string{"status"},
	)
)
