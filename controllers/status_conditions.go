package controllers

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	storagev1alpha1 "github.com/bayleafwalker/bindery-capabilities/api/v1alpha1"
)

const (
	BackendConditionCapabilitiesValid  = "CapabilitiesValid"
	BackendConditionDriverVersionValid = "DriverVersionValid"

	BackendPhaseReady   = "Ready"
	BackendPhaseInvalid = "Invalid"
)

func setBackendCondition(backend *storagev1alpha1.StorageBackend, condition metav1.Condition) {
	if backend == nil {
		return
	}
	condition.ObservedGeneration = backend.Generation
	meta.SetStatusCondition(&backend.Status.Conditions, condition)
}

func removeBackendCondition(backend *storagev1alpha1.StorageBackend, conditionType string) {
	if backend == nil {
		return
	}
	meta.RemoveStatusCondition(&backend.Status.Conditions, conditionType)
}

func capabilitiesReadyMessage(features, storage int) string {
	return fmt.Sprintf("%d feature and %d storage capabilities published", features, storage)
}
