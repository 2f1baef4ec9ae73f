package source

import (
	"context"

	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

// Source exposes the capabilities of one storage driver.
//
// Both calls are cheap introspections of static or configuration-derived
// data. Every call may return a differently shaped tree; callers must not
// cache results.
type Source interface {
	// FeatureCapabilities returns the operations/queries the driver supports,
	// keyed by domain (meters, resources, samples, statistics, alarms, events).
	FeatureCapabilities(ctx context.Context) (capability.Tree, error)

	// StorageQualityCapabilities returns non-functional guarantees under the
	// top-level "storage" key.
	StorageQualityCapabilities(ctx context.Context) (capability.Tree, error)
}

// StorageKey is the fixed root key of storage quality trees.
const StorageKey = "storage"
