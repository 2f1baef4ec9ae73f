package v1alpha1

// BackendRole names which part of the capability response a StorageBackend feeds.
type BackendRole string

const (
	BackendRolePrimary BackendRole = "primary"
	BackendRoleAlarm   BackendRole = "alarm"
	BackendRoleEvent   BackendRole = "event"
)

// Roles lists the roles in response order.
var Roles = []BackendRole{BackendRolePrimary, BackendRoleAlarm, BackendRoleEvent}

type DriverRef struct {
	// Name identifies the driver implementation, e.g. "mongodb" or "hbase".
	Name string `json:"name"`
	// Version is the driver's semantic version.
	Version string `json:"version,omitempty"`
	// Constraint optionally restricts the accepted driver versions,
	// e.g. ">=1.2.0 <2.0.0" or "^3".
	Constraint string `json:"constraint,omitempty"`
}
