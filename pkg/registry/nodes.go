// Package registry provides the catalog of pipeline node types.
package registry

import (
	"fmt"
	"sort"
)

// HandleType is the semantic type carried by a node handle.
type HandleType string

const (
	HandleQuery        HandleType = "query"
	HandleSafetyResult HandleType = "safety_result"
	HandleRoute        HandleType = "route"
	HandleQueries      HandleType = "queries"
	HandleDocuments    HandleType = "documents"
	HandleContext      HandleType = "context"
	HandleConfig       HandleType = "config"
	HandleResponse     HandleType = "response"
	HandleQuality      HandleType = "quality"
	HandleTrace        HandleType = "trace"
	HandleMetrics      HandleType = "metrics"
	HandleAny          HandleType = "any"
)

// Category groups node types by pipeline concern.
type Category string

const (
	CategoryInput         Category = "input"
	CategorySafety        Category = "safety"
	CategoryRouting       Category = "routing"
	CategoryExpansion     Category = "expansion"
	CategoryRetrieval     Category = "retrieval"
	CategoryCompression   Category = "compression"
	CategoryGeneration    Category = "generation"
	CategoryQuality       Category = "quality"
	CategoryObservability Category = "observability"
	CategoryOutput        Category = "output"
)

// Service names the external system a node type talks to.
type Service string

const (
	ServiceLocal      Service = "local"
	ServiceLakera     Service = "lakera"
	ServiceOpenRouter Service = "openrouter"
	ServiceQdrant     Service = "qdrant"
	ServiceCohere     Service = "cohere"
	ServiceLangfuse   Service = "langfuse"
)

// Direction selects the input or output side of a node.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// HandleDefinition describes one connection point of a node type
type HandleDefinition struct {
	ID       string     `json:"id" yaml:"id"`
	Type     HandleType `json:"type" yaml:"type"`
	Label    string     `json:"label" yaml:"label"`
	Position string     `json:"position" yaml:"position"`
	Required bool       `json:"required,omitempty" yaml:"required,omitempty"`
	Multiple bool       `json:"multiple,omitempty" yaml:"multiple,omitempty"`
}

// Definition is the static description of a node type
type Definition struct {
	Type        string   `json:"type" yaml:"type"`
	Category    Category `json:"category" yaml:"category"`
	Label       string   `json:"label" yaml:"label"`
	Description string   `json:"description" yaml:"description"`

	Inputs  []HandleDefinition `json:"inputs" yaml:"inputs"`
	Outputs []HandleDefinition `json:"outputs" yaml:"outputs"`

	DefaultConfig map[string]interface{} `json:"default_config,omitempty" yaml:"default_config,omitempty"`

	Service Service `json:"service" yaml:"service"`
	// APIKeyEnv names the environment variable holding the service key, if any.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// EstimatedLatencyMs is zero when the catalog gives no estimate.
	EstimatedLatencyMs float64 `json:"estimated_latency_ms,omitempty" yaml:"estimated_latency_ms,omitempty"`

	EstimatedCostPerCall float64 `json:"estimated_cost_per_call,omitempty" yaml:"estimated_cost_per_call,omitempty"`
}

// Handle returns the handle with the given ID on one side of the definition.
func (d Definition) Handle(id string, dir Direction) (HandleDefinition, bool) {
	handles := d.Outputs
	if dir == Input {
		handles = d.Inputs
	}
	for _, h := range handles {
		if h.ID == id {
			return h, true
		}
	}
	return HandleDefinition{}, false
}

// Registry is a read-only catalog of node definitions keyed by type.
type Registry struct {
	defs map[string]Definition
}

// New creates a registry from the given definitions. Duplicate types are rejected.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Type == "" {
			return nil, fmt.Errorf("node definition without type")
		}
		if _, exists := r.defs[d.Type]; exists {
			return nil, fmt.Errorf("duplicate node type: %s", d.Type)
		}
		r.defs[d.Type] = d
	}
	return r, nil
}

// Get returns the definition for a node type
func (r *Registry) Get(nodeType string) (Definition, bool) {
	d, ok := r.defs[nodeType]
	return d, ok
}

// Has reports whether the type is registered
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.defs[nodeType]
	return ok
}

// Types returns all registered types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Definitions returns every definition sorted by type
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, t := range r.Types() {
		out = append(out, r.defs[t])
	}
	return out
}

// HandleType resolves the type of a handle on a node type.
// It returns false when either the node type or the handle is unknown.
func (r *Registry) HandleType(nodeType, handleID string, dir Direction) (HandleType, bool) {
	d, ok := r.defs[nodeType]
	if !ok {
		return "", false
	}
	h, ok := d.Handle(handleID, dir)
	if !ok {
		return "", false
	}
	return h.Type, true
}

// LatencyOr returns the estimated latency of a type, or fallback when none is set.
func (r *Registry) LatencyOr(nodeType string, fallback float64) float64 {
	if d, ok := r.defs[nodeType]; ok && d.EstimatedLatencyMs > 0 {
		return d.EstimatedLatencyMs
	}
	return fallback
}

// Cost returns the estimated cost per call of a type, zero when unknown.
func (r *Registry) Cost(nodeType string) float64 {
	return r.defs[nodeType].EstimatedCostPerCall
}

// CategoryOf returns the category of a type
func (r *Registry) CategoryOf(nodeType string) (Category, bool) {
	d, ok := r.defs[nodeType]
	return d.Category, ok
}

// TypeSet is a set of node types.
type TypeSet map[string]struct{}

// NewTypeSet builds a set from the given types
func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership
func (s TypeSet) Has(t string) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the members in sorted order
func (s TypeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
