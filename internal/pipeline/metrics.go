package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "dispatches_total",
			Help:      "Total dispatch requests, by result.",
		},
		[]string{"result"}, // result: delivered, empty, resolution_error, credential_error
	)

	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "deliveries_total",
			Help:      "Total single-token deliveries, by platform and result.",
		},
		[]string{"platform", "result"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of single-token deliveries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "dispatch_duration_seconds",
			Help:      "End to end duration of a dispatch, excluding the log write.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	logWritesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "log_writes_total",
			Help:      "Notification log writes, by result.",
		},
		[]string{"result"},
	)
)
