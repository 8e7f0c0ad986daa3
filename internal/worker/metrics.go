package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics for Prometheus monitoring.
var (
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_worker_messages_processed_total",
			Help: "Total number of messages processed by status",
		},
		[]string{"queue", "status"}, // committed, abandoned, poisoned, stale
	)

	MessageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queueing_worker_processing_duration_seconds",
			Help:    "Duration of handler invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	ExpiredPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_worker_expired_purged_total",
			Help: "Total number of expired messages removed by the sweeper",
		},
		[]string{"queue"},
	)
)
