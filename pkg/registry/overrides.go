package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Override adjusts the estimates of a registered node type.
type Override struct {
	Label                string   `yaml:"label,omitempty"`
	EstimatedLatencyMs   *float64 `yaml:"estimated_latency_ms,omitempty"`
	EstimatedCostPerCall *float64 `yaml:"estimated_cost_per_call,omitempty"`
}

// OverrideFile is the on-disk format of registry overrides:
//
//	nodes:
//	  llm_generation:
//	    estimated_latency_ms: 900
//	    estimated_cost_per_call: 0.002
type OverrideFile struct {
	Nodes map[string]Override `yaml:"nodes"`
}

// ParseOverrides parses YAML override content
func ParseOverrides(data []byte) (OverrideFile, error) {
	var f OverrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return OverrideFile{}, fmt.Errorf("failed to parse registry overrides: %w", err)
	}
	return f, nil
}

// WithOverrides returns a copy of the registry with the overrides applied.
// Overriding a type that is not registered is an error.
func (r *Registry) WithOverrides(f OverrideFile) (*Registry, error) {
	next := &Registry{defs: make(map[string]Definition, len(r.defs))}
	for t, d := range r.defs {
		next.defs[t] = d
	}
	for t, o := range f.Nodes {
		d, ok := next.defs[t]
		if !ok {
			return nil, fmt.Errorf("override for unknown node type: %s", t)
		}
		if o.Label != "" {
			d.Label = o.Label
		}
		if o.EstimatedLatencyMs != nil {
			if *o.EstimatedLatencyMs < 0 {
				return nil, fmt.Errorf("negative latency for node type %s", t)
			}
			d.EstimatedLatencyMs = *o.EstimatedLatencyMs
		}
		if o.EstimatedCostPerCall != nil {
			if *o.EstimatedCostPerCall < 0 {
				return nil, fmt.Errorf("negative cost for node type %s", t)
			}
			d.EstimatedCostPerCall = *o.EstimatedCostPerCall
		}
		next.defs[t] = d
	}
	return next, nil
}

// LoadOverrides reads an override file and applies it to the registry
func (r *Registry) LoadOverrides(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry overrides: %w", err)
	}
	f, err := ParseOverrides(data)
	if err != nil {
		return nil, err
	}
	return r.WithOverrides(f)
}
