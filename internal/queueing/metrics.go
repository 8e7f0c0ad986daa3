package queueing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue client metrics for Prometheus monitoring.
var (
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_messages_sent_total",
			Help: "Total number of messages sent",
		},
		[]string{"queue"},
	)

	ReceiveAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_receive_attempts_total",
			Help: "Total number of receive attempts by result",
		},
		[]string{"queue", "result"}, // claimed, empty
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_settlements_total",
			Help: "Total number of commit and abandon attempts by outcome",
		},
		[]string{"queue", "op", "outcome"}, // applied, stale
	)

	TransportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_transport_errors_total",
			Help: "Total number of backend failures by operation",
		},
		[]string{"queue", "op"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queueing_operation_duration_seconds",
			Help:    "Duration of backend round trips",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
