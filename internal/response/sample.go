package response

import (
	"github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

func queryTiers(simple, metadata, complexQueries bool) map[string]any {
	return map[string]any{"simple": simple, "metadata": metadata, "complex": complexQueries}
}

// SampleFeatures is the documentation feature tree. It does not reflect any
// configured driver.
func SampleFeatures() capability.Tree {
	return capability.MustFromMap(map[string]any{
		"meters": map[string]any{
			"pagination": true,
			"query":      queryTiers(true, true, false),
		},
		"resources": map[string]any{
			"pagination": false,
			"query":      queryTiers(true, true, false),
		},
		"samples": map[string]any{
			"pagination": true,
			"groupby":    true,
			"query":      queryTiers(true, true, true),
		},
		"statistics": map[string]any{
			"pagination": true,
			"groupby":    true,
			"query":      queryTiers(true, true, false),
			"aggregation": map[string]any{
				"standard": true,
				"selectable": map[string]any{
					"max":         true,
					"min":         true,
					"sum":         true,
					"avg":         true,
					"count":       true,
					"stddev":      true,
					"cardinality": true,
					"quartile":    false,
				},
			},
		},
		"alarms": map[string]any{
			"query": map[string]any{"simple": true, "complex": true},
			"history": map[string]any{
				"query": map[string]any{"simple": true, "complex": true},
			},
		},
		"events": map[string]any{
			"query": map[string]any{"simple": true},
		},
	})
}

func sampleStorage() capability.Tree {
	return capability.MustFromMap(map[string]any{
		"storage": map[string]any{"production_ready": true},
	})
}

// Sample returns a fixed example response for documentation and tests.
func Sample() Capabilities {
	c, err := Build(aggregator.Result{
		Features:     SampleFeatures(),
		Storage:      sampleStorage(),
		AlarmStorage: sampleStorage(),
		EventStorage: sampleStorage(),
	})
	if err != nil {
		panic(err)
	}
	return c
}
