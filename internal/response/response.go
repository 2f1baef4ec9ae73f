// Package response defines the client-facing capability document: four flat
// maps keyed by dotted path. The dotted keys are a wire contract and must stay
// stable across releases (e.g. "samples.groupby",
// "statistics.aggregation.selectable.stddev").
package response

import (
	"context"
	"fmt"

	"github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

// Capabilities is the API and storage capability description.
// It is built per request and never cached.
type Capabilities struct {
	// API is the flattened feature capabilities of the configured drivers.
	API map[string]bool `json:"api"`
	// Storage is the flattened storage quality of the primary driver.
	Storage map[string]bool `json:"storage"`
	// AlarmStorage is the flattened storage quality of the alarm driver.
	AlarmStorage map[string]bool `json:"alarm_storage"`
	// EventStorage is the flattened storage quality of the event driver.
	EventStorage map[string]bool `json:"event_storage"`
}

// Aggregator produces the trees a response is built from.
type Aggregator interface {
	Aggregate(ctx context.Context) (aggregator.Result, error)
}

// Collect aggregates and flattens in one step.
func Collect(ctx context.Context, agg Aggregator) (Capabilities, error) {
	res, err := agg.Aggregate(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	return Build(res)
}

// Build flattens each tree of res independently.
func Build(res aggregator.Result) (Capabilities, error) {
	api, err := capability.Flatten(res.Features)
	if err != nil {
		return Capabilities{}, fmt.Errorf("flatten api capabilities: %w", err)
	}
	storage, err := capability.Flatten(res.Storage)
	if err != nil {
		return Capabilities{}, fmt.Errorf("flatten storage capabilities: %w", err)
	}
	alarmStorage, err := capability.Flatten(res.AlarmStorage)
	if err != nil {
		return Capabilities{}, fmt.Errorf("flatten alarm storage capabilities: %w", err)
	}
	eventStorage, err := capability.Flatten(res.EventStorage)
	if err != nil {
		return Capabilities{}, fmt.Errorf("flatten event storage capabilities: %w", err)
	}
	return Capabilities{
		API:          api,
		Storage:      storage,
		AlarmStorage: alarmStorage,
		EventStorage: eventStorage,
	}, nil
}
