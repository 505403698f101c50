package dataverse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotalCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataverse",
			Name:      "calls_total",
			Help:      "Total Dataverse Web API calls by outcome.",
		},
		[]string{"method", "outcome"}, // outcome: "success", "error", "circuit_open"
	)

	callDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dataverse",
			Name:      "call_duration_seconds",
			Help:      "Duration of Dataverse Web API calls, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
