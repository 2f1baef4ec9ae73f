package controllers

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	storagev1alpha1 "github.com/bayleafwalker/bindery-capabilities/api/v1alpha1"
	"github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
	"github.com/bayleafwalker/bindery-capabilities/internal/semver"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

const storageBackendControllerName = "StorageBackend"

// StorageBackendReconciler validates the capability trees declared by
// StorageBackends and reports the outcome in status, events and metrics.
// It never changes the spec; the capability server reads specs directly.
//
// RBAC:
// +kubebuilder:rbac:groups=storage.bindery.platform,resources=storagebackends,verbs=get;list;watch
// +kubebuilder:rbac:groups=storage.bindery.platform,resources=storagebackends/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch;update
type StorageBackendReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
}

func (r *StorageBackendReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	binderyControllerReconcileTotal.WithLabelValues(storageBackendControllerName).Inc()

	logger := log.FromContext(ctx).WithValues(
		"controller", storageBackendControllerName,
		"namespace", req.Namespace,
		"backend", req.Name,
	)

	var backend storagev1alpha1.StorageBackend
	if err := r.Get(ctx, req.NamespacedName, &backend); err != nil {
		if client.IgnoreNotFound(err) == nil {
			storageBackendInvalid.DeleteLabelValues(req.Namespace, req.Name)
			return ctrl.Result{}, nil
		}
		binderyControllerReconcileErrorTotal.WithLabelValues(storageBackendControllerName).Inc()
		return ctrl.Result{}, err
	}

	logger = logger.WithValues(
		"role", backend.Spec.Role,
		"driver", backend.Spec.Driver.Name,
	)

	before := backend.DeepCopy()
	backend.Status.ObservedGeneration = backend.Generation

	versionOK := r.reconcileDriverVersion(&backend)

	features, storage, verr := validateBackend(&backend)
	if verr != nil {
		logger.Info("capabilities invalid", "reason", verr.Error())
		setBackendCondition(&backend, metav1.Condition{
			Type:    BackendConditionCapabilitiesValid,
			Status:  metav1.ConditionFalse,
			Reason:  "InvalidCapabilities",
			Message: verr.Error(),
		})
		backend.Status.FeatureCount = 0
		backend.Status.StorageCount = 0
		r.recordEventf(&backend, "Warning", "InvalidCapabilities", "Capabilities rejected: %v", verr)
	} else {
		setBackendCondition(&backend, metav1.Condition{
			Type:    BackendConditionCapabilitiesValid,
			Status:  metav1.ConditionTrue,
			Reason:  "Validated",
			Message: capabilitiesReadyMessage(len(features), len(storage)),
		})
		backend.Status.FeatureCount = int32(len(features))
		backend.Status.StorageCount = int32(len(storage))
	}

	switch {
	case verr != nil:
		backend.Status.Phase = BackendPhaseInvalid
		backend.Status.Message = verr.Error()
	case !versionOK:
		backend.Status.Phase = BackendPhaseInvalid
		backend.Status.Message = fmt.Sprintf("driver version %q rejected", backend.Spec.Driver.Version)
		if cond := meta.FindStatusCondition(backend.Status.Conditions, BackendConditionDriverVersionValid); cond != nil {
			backend.Status.Message = cond.Message
		}
	default:
		backend.Status.Phase = BackendPhaseReady
		backend.Status.Message = capabilitiesReadyMessage(len(features), len(storage))
	}

	if backend.Status.Phase == BackendPhaseInvalid {
		storageBackendInvalid.WithLabelValues(req.Namespace, req.Name).Set(1)
	} else {
		storageBackendInvalid.WithLabelValues(req.Namespace, req.Name).Set(0)
	}

	if err := r.Status().Patch(ctx, &backend, client.MergeFrom(before)); err != nil {
		logger.Error(err, "failed to patch backend status")
		binderyControllerReconcileErrorTotal.WithLabelValues(storageBackendControllerName).Inc()
		return ctrl.Result{}, err
	}

	logger.V(1).Info("reconciled", "phase", backend.Status.Phase, "features", len(features), "storage", len(storage))
	return ctrl.Result{}, nil
}

// reconcileDriverVersion validates spec.driver.version against
// spec.driver.constraint and records upgrades and downgrades against the last
// accepted version. It reports false when a version is set and is either
// unparseable or outside the constraint.
func (r *StorageBackendReconciler) reconcileDriverVersion(backend *storagev1alpha1.StorageBackend) bool {
	raw := strings.TrimSpace(backend.Spec.Driver.Version)
	if raw == "" {
		removeBackendCondition(backend, BackendConditionDriverVersionValid)
		backend.Status.DriverVersion = ""
		return true
	}

	current, err := semver.ParseVersion(raw)
	if err != nil {
		setBackendCondition(backend, metav1.Condition{
			Type:    BackendConditionDriverVersionValid,
			Status:  metav1.ConditionFalse,
			Reason:  "InvalidVersion",
			Message: err.Error(),
		})
		r.recordEventf(backend, "Warning", "InvalidDriverVersion", "Driver version %q is not a semantic version", raw)
		return false
	}

	if rawConstraint := strings.TrimSpace(backend.Spec.Driver.Constraint); rawConstraint != "" {
		constraint, err := semver.ParseConstraint(rawConstraint)
		if err != nil {
			setBackendCondition(backend, metav1.Condition{
				Type:    BackendConditionDriverVersionValid,
				Status:  metav1.ConditionFalse,
				Reason:  "InvalidConstraint",
				Message: err.Error(),
			})
			r.recordEventf(backend, "Warning", "InvalidDriverConstraint", "Driver constraint %q cannot be parsed", rawConstraint)
			return false
		}
		if !semver.Satisfies(current, constraint) {
			setBackendCondition(backend, metav1.Condition{
				Type:    BackendConditionDriverVersionValid,
				Status:  metav1.ConditionFalse,
				Reason:  "UnsupportedVersion",
				Message: fmt.Sprintf("version %s does not satisfy %q", current, rawConstraint),
			})
			r.recordEventf(backend, "Warning", "UnsupportedDriverVersion", "Driver %s version %s does not satisfy %q", backend.Spec.Driver.Name, current, rawConstraint)
			return false
		}
	}

	setBackendCondition(backend, metav1.Condition{
		Type:    BackendConditionDriverVersionValid,
		Status:  metav1.ConditionTrue,
		Reason:  "Parsed",
		Message: current.String(),
	})

	if prevRaw := backend.Status.DriverVersion; prevRaw != "" {
		if prev, err := semver.ParseVersion(prevRaw); err == nil {
			switch semver.Compare(current, prev) {
			case 1:
				r.recordEventf(backend, "Normal", "DriverUpgraded", "Driver %s upgraded from %s to %s", backend.Spec.Driver.Name, prev, current)
			case -1:
				r.recordEventf(backend, "Warning", "DriverDowngraded", "Driver %s downgraded from %s to %s", backend.Spec.Driver.Name, prev, current)
			}
		}
	}
	backend.Status.DriverVersion = current.String()
	return true
}

// validateBackend decodes and flattens both declared trees and applies the
// role rules. It returns the flattened feature and storage maps.
func validateBackend(backend *storagev1alpha1.StorageBackend) (capability.Flat, capability.Flat, error) {
	features, err := source.DecodeExtension("features", backend.Spec.Features)
	if err != nil {
		return nil, nil, err
	}
	flatFeatures, err := capability.Flatten(features)
	if err != nil {
		return nil, nil, fmt.Errorf("features: %w", err)
	}

	storage, err := source.DecodeExtension("storage", backend.Spec.Storage)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := storage.Child(source.StorageKey); !ok {
		return nil, nil, fmt.Errorf("storage: missing %q key: %w", source.StorageKey, capability.ErrMalformedTree)
	}
	flatStorage, err := capability.Flatten(storage)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}

	switch backend.Spec.Role {
	case storagev1alpha1.BackendRolePrimary:
	case storagev1alpha1.BackendRoleAlarm:
		if _, ok := features.Child(aggregator.AlarmsKey); !ok {
			return nil, nil, fmt.Errorf("features: alarm backend must declare %q: %w", aggregator.AlarmsKey, capability.ErrMalformedTree)
		}
	case storagev1alpha1.BackendRoleEvent:
		if _, ok := features.Child(aggregator.EventsKey); !ok {
			return nil, nil, fmt.Errorf("features: event backend must declare %q: %w", aggregator.EventsKey, capability.ErrMalformedTree)
		}
	default:
		return nil, nil, fmt.Errorf("unknown role %q", backend.Spec.Role)
	}

	return flatFeatures, flatStorage, nil
}

func (r *StorageBackendReconciler) recordEventf(obj client.Object, eventType, reason, messageFmt string, args ...any) {
	if r.Recorder == nil || obj == nil {
		return
	}
	r.Recorder.Eventf(obj, eventType, reason, messageFmt, args...)
}

func (r *StorageBackendReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&storagev1alpha1.StorageBackend{}).
		WithEventFilter(predicate.GenerationChangedPredicate{}).
		Complete(r)
}
