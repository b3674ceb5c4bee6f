// Package routes maps semantic router routes to the node types that run on them.
package routes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

// Known routes
const (
	RAGKnowledgeBase = "rag_knowledge_base"
	DirectLLM        = "direct_llm"
	Chitchat         = "chitchat"
	CodeGeneration   = "code_generation"
	OutOfScope       = "out_of_scope"
)

// ErrUnknownRoute is returned when a route name is not in the table
var ErrUnknownRoute = errors.New("unknown route")

var safetyPrefix = []string{
	registry.QueryInput,
	registry.InjectionFilter,
	registry.PIIDetector,
	registry.LakeraGuard,
	registry.SafetyGate,
	registry.SemanticRouter,
}

func path(types ...string) []string {
	return append(append([]string{}, safetyPrefix...), types...)
}

// DefaultPaths returns the node types active on each known route
func DefaultPaths() map[string][]string {
	retrieval := path(
		registry.QueryExpander,
		registry.QdrantRetrieval,
		registry.Deduplication,
		registry.CohereRerank,
		registry.BM25Compression,
		registry.ModelRouter,
		registry.LLMGeneration,
		registry.HHEMChecker,
		registry.OutputSchema,
		registry.LangfuseTracing,
		registry.ResponseOutput,
	)
	return map[string][]string{
		RAGKnowledgeBase: retrieval,
		CodeGeneration:   append([]string{}, retrieval...),
		DirectLLM: path(
			registry.ModelRouter,
			registry.LLMGeneration,
			registry.HHEMChecker,
			registry.OutputSchema,
			registry.LangfuseTracing,
			registry.ResponseOutput,
		),
		Chitchat: path(
			registry.ModelRouter,
			registry.LLMGeneration,
			registry.OutputSchema,
			registry.LangfuseTracing,
			registry.ResponseOutput,
		),
		OutOfScope: path(registry.ResponseOutput),
	}
}

// Resolution is the outcome of looking up a route
type Resolution struct {
	Route  string
	Active registry.TypeSet
	// Known is false when the route was not recognised and Active holds every type.
	Known bool
}

// Table answers which node types run on which route
type Table struct {
	paths map[string]registry.TypeSet
	all   registry.TypeSet
}

// NewTable creates a route table from route -> active node types
func NewTable(paths map[string][]string) *Table {
	t := &Table{
		paths: make(map[string]registry.TypeSet, len(paths)),
		all:   registry.NewTypeSet(),
	}
	for route, types := range paths {
		t.paths[route] = registry.NewTypeSet(types...)
		for _, nt := range types {
			t.all[nt] = struct{}{}
		}
	}
	return t
}

// Default returns the table for the built-in routes
func Default() *Table {
	return NewTable(DefaultPaths())
}

// Resolve looks up a route, falling back to the full type set for unknown names.
func (t *Table) Resolve(route string) Resolution {
	if active, ok := t.paths[route]; ok {
		return Resolution{Route: route, Active: active, Known: true}
	}
	return Resolution{Route: route, Active: t.all, Known: false}
}

// ActiveNodeTypes returns the node types that execute on a route. For an unknown
// route it returns every type referenced by the table along with ErrUnknownRoute,
// so callers may either fail open or reject the route.
func (t *Table) ActiveNodeTypes(route string) (registry.TypeSet, error) {
	res := t.Resolve(route)
	if !res.Known {
		return res.Active, fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}
	return res.Active, nil
}

// IsActive reports whether nodeType runs on route. Unknown routes treat every type as active.
func (t *Table) IsActive(route, nodeType string) bool {
	active, ok := t.paths[route]
	if !ok {
		return true
	}
	return active.Has(nodeType)
}

// SkippedTypes returns the types referenced by any route that do not run on route.
// Unknown routes skip nothing.
func (t *Table) SkippedTypes(route string) registry.TypeSet {
	skipped := registry.NewTypeSet()
	active, ok := t.paths[route]
	if !ok {
		return skipped
	}
	for nt := range t.all {
		if !active.Has(nt) {
			skipped[nt] = struct{}{}
		}
	}
	return skipped
}

// Routes returns the known route names in sorted order
func (t *Table) Routes() []string {
	out := make([]string, 0, len(t.paths))
	for r := range t.paths {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
