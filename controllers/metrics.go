package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	binderyControllerReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_controller_reconcile_total",
			Help: "Number of reconciliations by controller.",
		},
		[]string{"controller"},
	)
	binderyControllerReconcileErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_controller_reconcile_error_total",
			Help: "Number of reconciliation errors by controller.",
		},
		[]string{"controller"},
	)

	storageBackendInvalid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bindery_storagebackend_invalid",
			Help: "1 if the StorageBackend failed validation in its last reconcile, 0 otherwise.",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		binderyControllerReconcileTotal,
		binderyControllerReconcileErrorTotal,
		storageBackendInvalid,
	)
}
