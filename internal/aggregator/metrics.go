package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	aggregateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_capabilities_aggregate_total",
			Help: "Number of capability aggregations by result.",
		},
		[]string{"result"},
	)
	aggregateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bindery_capabilities_aggregate_duration_seconds",
			Help:    "Time taken to fetch and merge capabilities from all sources.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_capabilities_source_errors_total",
			Help: "Number of failed capability source reads by role and reason.",
		},
		[]string{"role", "reason"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		aggregateTotal,
		aggregateDuration,
		sourceErrorsTotal,
	)
}
