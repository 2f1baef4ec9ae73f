package source

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	storagev1alpha1 "github.com/bayleafwalker/bindery-capabilities/api/v1alpha1"
	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

// Kube reads capabilities from a StorageBackend object.
//
// Reader is normally the manager's cache-backed client, so each call is a
// local informer lookup rather than an API server round trip.
type Kube struct {
	Reader client.Reader
	Key    types.NamespacedName
}

func NewKube(reader client.Reader, namespace, name string) *Kube {
	return &Kube{Reader: reader, Key: types.NamespacedName{Namespace: namespace, Name: name}}
}

func (k *Kube) FeatureCapabilities(ctx context.Context) (capability.Tree, error) {
	backend, err := k.get(ctx)
	if err != nil {
		return capability.Tree{}, err
	}
	return decodeExtension(k.Key.String(), "features", backend.Spec.Features)
}

func (k *Kube) StorageQualityCapabilities(ctx context.Context) (capability.Tree, error) {
	backend, err := k.get(ctx)
	if err != nil {
		return capability.Tree{}, err
	}
	return decodeExtension(k.Key.String(), "storage", backend.Spec.Storage)
}

func (k *Kube) get(ctx context.Context) (*storagev1alpha1.StorageBackend, error) {
	if k == nil {
		return nil, Unavailable("kube", errNilSource)
	}
	if k.Reader == nil {
		return nil, Unavailable(k.Key.String(), fmt.Errorf("no client configured"))
	}
	var backend storagev1alpha1.StorageBackend
	if err := k.Reader.Get(ctx, k.Key, &backend); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Unavailable(k.Key.String(), err)
	}
	return &backend, nil
}

// DecodeExtension parses a StorageBackend capability field into a Tree.
func DecodeExtension(field string, ext runtime.RawExtension) (capability.Tree, error) {
	return decodeExtension("", field, ext)
}

func decodeExtension(name, field string, ext runtime.RawExtension) (capability.Tree, error) {
	if len(ext.Raw) == 0 {
		if name == "" {
			return capability.Tree{}, fmt.Errorf("%s: %w", field, capability.ErrMalformedTree)
		}
		return capability.Tree{}, Unavailable(name, fmt.Errorf("spec.%s is empty", field))
	}
	var t capability.Tree
	if err := json.Unmarshal(ext.Raw, &t); err != nil {
		if name == "" {
			return capability.Tree{}, fmt.Errorf("%s: %w", field, err)
		}
		return capability.Tree{}, fmt.Errorf("storagebackend %s: %s: %w", name, field, err)
	}
	return t, nil
}
