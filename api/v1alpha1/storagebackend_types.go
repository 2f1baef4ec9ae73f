package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// StorageBackend publishes the capabilities of one configured storage driver.
//
// The capability server reads one StorageBackend per role (primary, alarm, event)
// on every request; the StorageBackend controller only validates and reports.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=sbe
// +kubebuilder:printcolumn:name="Role",type=string,JSONPath=`.spec.role`
// +kubebuilder:printcolumn:name="Driver",type=string,JSONPath=`.spec.driver.name`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.spec.driver.version`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Features",type=integer,JSONPath=`.status.featureCount`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type StorageBackend struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   StorageBackendSpec   `json:"spec"`
	Status StorageBackendStatus `json:"status,omitempty"`
}

type StorageBackendSpec struct {
	// +kubebuilder:validation:Enum=primary;alarm;event
	Role   BackendRole `json:"role"`
	Driver DriverRef   `json:"driver"`

	// Features is the feature capability tree: nested objects whose leaves are booleans.
	// +kubebuilder:pruning:PreserveUnknownFields
	Features runtime.RawExtension `json:"features"`

	// Storage is the storage quality tree, rooted at the "storage" key.
	// +kubebuilder:pruning:PreserveUnknownFields
	Storage runtime.RawExtension `json:"storage"`
}

type StorageBackendStatus struct {
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Phase              string             `json:"phase,omitempty"`
	Message            string             `json:"message,omitempty"`
	DriverVersion      string             `json:"driverVersion,omitempty"`
	FeatureCount       int32              `json:"featureCount,omitempty"`
	StorageCount       int32              `json:"storageCount,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
type StorageBackendList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []StorageBackend `json:"items"`
}

func init() {
	SchemeBuilder.Register(&StorageBackend{}, &StorageBackendList{})
}
