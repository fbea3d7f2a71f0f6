// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SourceCache    = "cache"
	SourceComputed = "computed"
)

var (
	BehaviorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_behavior_events_total",
			Help: "Total number of tracked behavior events",
		},
		[]string{"action"},
	)

	PreferenceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_preference_updates_total",
			Help: "Total number of preference profile writes",
		},
		[]string{"origin"}, // "behavior" or "explicit"
	)

	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_recommendations_total",
			Help: "Total number of recommendation requests served",
		},
		[]string{"strategy", "source"},
	)

	RecommendationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_recommendation_errors_total",
			Help: "Total number of failed recommendation computations",
		},
		[]string{"strategy"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_recommendation_duration_seconds",
			Help:    "Time spent computing recommendations on cache miss",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	RecommendationCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_recommendation_cache_entries",
			Help: "Current number of entries in the in-process recommendation cache",
		},
	)

	SimilarityRebuildEdges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storefront_similarity_edges",
			Help: "Number of similarity edges written by the last rebuild",
		},
		[]string{"similarity_type"},
	)
)
