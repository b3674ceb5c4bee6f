// Package trace reconciles coarse backend stage traces with the canvas node graph.
package trace

import "github.com/tcmartin/pipelinestudio/pkg/registry"

// Backend stage names
const (
	StageInput         = "input"
	StageSafety        = "safety"
	StageRouting       = "routing"
	StageExpansion     = "expansion"
	StageRetrieval     = "retrieval"
	StageCompression   = "compression"
	StageGeneration    = "generation"
	StageQuality       = "quality"
	StageObservability = "observability"
	StageOutput        = "output"

	// StageUnknown is reported for node types that belong to no stage
	StageUnknown = "unknown"
)

// Stage is a backend processing phase and the node types it covers
type Stage struct {
	Name      string   `json:"name"`
	NodeTypes []string `json:"node_types"`
}

// DefaultStages returns the stage table in pipeline order.
// Every catalog node type belongs to exactly one stage.
func DefaultStages() []Stage {
	return []Stage{
		{StageInput, []string{registry.QueryInput}},
		{StageSafety, []string{registry.InjectionFilter, registry.PIIDetector, registry.LakeraGuard, registry.SafetyGate}},
		{StageRouting, []string{registry.SemanticRouter}},
		{StageExpansion, []string{registry.QueryExpander}},
		{StageRetrieval, []string{registry.QdrantRetrieval, registry.Deduplication, registry.CohereRerank}},
		{StageCompression, []string{registry.BM25Compression}},
		{StageGeneration, []string{registry.ModelRouter, registry.LLMGeneration}},
		{StageQuality, []string{registry.HHEMChecker, registry.OutputSchema}},
		{StageObservability, []string{registry.LangfuseTracing, registry.PrometheusMetrics}},
		{StageOutput, []string{registry.ResponseOutput}},
	}
}

var alwaysActive = []string{
	registry.QueryInput,
	registry.InjectionFilter,
	registry.PIIDetector,
	registry.LakeraGuard,
	registry.SafetyGate,
	registry.SemanticRouter,
	registry.LangfuseTracing,
	registry.PrometheusMetrics,
	registry.ResponseOutput,
}

var routeExtras = map[string][]string{
	"rag_knowledge_base": {
		registry.QueryExpander, registry.QdrantRetrieval, registry.Deduplication, registry.CohereRerank,
		registry.BM25Compression, registry.ModelRouter, registry.LLMGeneration, registry.HHEMChecker, registry.OutputSchema,
	},
	"direct_llm": {
		registry.ModelRouter, registry.LLMGeneration, registry.HHEMChecker, registry.OutputSchema,
	},
	"chitchat": {
		registry.ModelRouter, registry.LLMGeneration, registry.OutputSchema,
	},
	"code_generation": {
		registry.QueryExpander, registry.QdrantRetrieval, registry.Deduplication,
		registry.BM25Compression, registry.ModelRouter, registry.LLMGeneration, registry.HHEMChecker, registry.OutputSchema,
	},
	"out_of_scope": {
		registry.OutputSchema,
	},
}

// ActiveNodeTypesForRoute returns the node types that run in a simulated run
// of route. The input, safety, routing, observability and output types are always
// included. Unknown routes get the full pipeline and known is false.
func ActiveNodeTypesForRoute(route string) (active registry.TypeSet, known bool) {
	extras, known := routeExtras[route]
	if !known {
		extras = routeExtras["rag_knowledge_base"]
	}
	active = registry.NewTypeSet(alwaysActive...)
	for _, t := range extras {
		active[t] = struct{}{}
	}
	return active, known
}
