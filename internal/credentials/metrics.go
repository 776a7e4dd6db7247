package credentials

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	credentialExchangesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "credential_exchanges_total",
			Help:      "Total JWT-bearer token exchanges, by result.",
		},
		[]string{"result"},
	)

	credentialExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "credential_exchange_duration_seconds",
			Help:      "Duration of JWT-bearer token exchanges.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	credentialCacheCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "credential_cache_lookups_total",
			Help:      "Credential cache lookups, by tier and result.",
		},
		[]string{"tier", "result"}, // tier: memory, shared
	)
)
