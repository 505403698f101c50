package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "messages_processed_total",
			Help:      "Total scheduled messages processed, by type and terminal status.",
		},
		[]string{"message_type", "status"},
	)

	batchDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one scheduled-message batch run.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	batchSizeHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "batch_size",
			Help:      "Number of due messages picked up per batch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50},
		},
	)
)
