package source

import (
	"context"
	"fmt"

	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

// Static serves fixed trees. It is useful for embedding drivers whose feature
// set is compiled in, and for tests.
type Static struct {
	Name     string
	Features capability.Tree
	Storage  capability.Tree
}

// NewStatic validates literal trees and returns a Static source.
func NewStatic(name string, features, storage map[string]any) (*Static, error) {
	f, err := capability.FromMap(features)
	if err != nil {
		return nil, fmt.Errorf("static source %s: features: %w", name, err)
	}
	s, err := capability.FromMap(storage)
	if err != nil {
		return nil, fmt.Errorf("static source %s: storage: %w", name, err)
	}
	return &Static{Name: name, Features: f, Storage: s}, nil
}

func (s *Static) FeatureCapabilities(ctx context.Context) (capability.Tree, error) {
	if s == nil {
		return capability.Tree{}, Unavailable("static", errNilSource)
	}
	return s.tree(ctx, s.Features)
}

func (s *Static) StorageQualityCapabilities(ctx context.Context) (capability.Tree, error) {
	if s == nil {
		return capability.Tree{}, Unavailable("static", errNilSource)
	}
	return s.tree(ctx, s.Storage)
}

func (s *Static) tree(ctx context.Context, t capability.Tree) (capability.Tree, error) {
	if err := ctx.Err(); err != nil {
		return capability.Tree{}, err
	}
	if !t.IsValid() {
		return capability.Tree{}, Unavailable(s.Name, fmt.Errorf("no capabilities configured"))
	}
	return t, nil
}
