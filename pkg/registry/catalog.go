package registry

// Node types in the default catalog.
const (
	QueryInput        = "query_input"
	InjectionFilter   = "injection_filter"
	PIIDetector       = "pii_detector"
	LakeraGuard       = "lakera_guard"
	SafetyGate        = "safety_gate"
	SemanticRouter    = "semantic_router"
	QueryExpander     = "query_expander"
	QdrantRetrieval   = "qdrant_retrieval"
	Deduplication     = "deduplication"
	CohereRerank      = "cohere_rerank"
	BM25Compression   = "bm25_compression"
	ModelRouter       = "model_router"
	LLMGeneration     = "llm_generation"
	HHEMChecker       = "hhem_checker"
	OutputSchema      = "output_schema"
	LangfuseTracing   = "langfuse_tracing"
	PrometheusMetrics = "prometheus_metrics"
	ResponseOutput    = "response_output"
)

func in(id string, t HandleType, label string, required bool) HandleDefinition {
	return HandleDefinition{ID: id, Type: t, Label: label, Position: "left", Required: required}
}

func out(id string, t HandleType, label, position string) HandleDefinition {
	return HandleDefinition{ID: id, Type: t, Label: label, Position: position}
}

// DefaultDefinitions returns the built-in catalog of the RAG pipeline node types.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Type: QueryInput, Category: CategoryInput, Label: "Query Input",
			Description: "Entry point: user query with metadata",
			Outputs:     []HandleDefinition{out("query", HandleQuery, "Query", "right")},
			DefaultConfig: map[string]interface{}{
				"user_id": "test-user", "tenant_id": "default", "query": "",
			},
			Service: ServiceLocal,
		},
		{
			Type: InjectionFilter, Category: CategorySafety, Label: "L1 Injection Filter",
			Description: "Regex-based prompt injection detection",
			Inputs:      []HandleDefinition{in("query_in", HandleQuery, "Query", true)},
			Outputs: []HandleDefinition{
				out("query_out", HandleQuery, "Query (safe)", "right"),
				out("safety", HandleSafetyResult, "Injection Result", "bottom"),
			},
			DefaultConfig:      map[string]interface{}{"enabled": true, "patterns_count": 15, "block_on_match": true},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 2,
		},
		{
			Type: PIIDetector, Category: CategorySafety, Label: "PII Detector",
			Description: "Regex-based PII detection and redaction",
			Inputs:      []HandleDefinition{in("query_in", HandleQuery, "Query", true)},
			Outputs: []HandleDefinition{
				out("query_out", HandleQuery, "Query (redacted)", "right"),
				out("safety", HandleSafetyResult, "PII Result", "bottom"),
			},
			DefaultConfig:      map[string]interface{}{"enabled": true, "redact": true, "types": "all"},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 1,
		},
		{
			Type: LakeraGuard, Category: CategorySafety, Label: "Lakera Guard (L2)",
			Description: "ML-based injection detection via Lakera API",
			Inputs:      []HandleDefinition{in("query_in", HandleQuery, "Query", true)},
			Outputs: []HandleDefinition{
				out("query_out", HandleQuery, "Query (verified)", "right"),
				out("safety", HandleSafetyResult, "Lakera Result", "bottom"),
			},
			DefaultConfig:      map[string]interface{}{"enabled": true, "threshold": 0.85},
			Service:            ServiceLakera,
			APIKeyEnv:          "LAKERA_API_KEY",
			EstimatedLatencyMs: 150,
		},
		{
			Type: SafetyGate, Category: CategorySafety, Label: "Safety Gate",
			Description: "Aggregates parallel safety checks and blocks if any check fails",
			Inputs: []HandleDefinition{
				in("injection_result", HandleSafetyResult, "Injection Result", true),
				in("pii_result", HandleSafetyResult, "PII Result", true),
				in("lakera_result", HandleSafetyResult, "Lakera Result", false),
				in("query_in", HandleQuery, "Query", true),
			},
			Outputs: []HandleDefinition{
				out("query_out", HandleQuery, "Query (all checks passed)", "right"),
				out("safety_summary", HandleSafetyResult, "Safety Summary", "bottom"),
			},
			DefaultConfig:      map[string]interface{}{"require_all": true, "fail_open": false},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 1,
		},
		{
			Type: SemanticRouter, Category: CategoryRouting, Label: "Semantic Router",
			Description: "Embedding-based query classification",
			Inputs:      []HandleDefinition{in("query_in", HandleQuery, "Query", true)},
			Outputs: []HandleDefinition{
				out("route", HandleRoute, "Route", "right"),
				out("query_out", HandleQuery, "Query", "right"),
			},
			DefaultConfig:      map[string]interface{}{"model": "all-MiniLM-L6-v2", "threshold": 0.5, "scoring": "max"},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 50,
		},
		{
			Type: QueryExpander, Category: CategoryExpansion, Label: "Query Expander",
			Description: "Generates query rephrasings for multi-query retrieval",
			Inputs: []HandleDefinition{
				in("query_in", HandleQuery, "Query", true),
				in("route", HandleRoute, "Route", false),
			},
			Outputs: []HandleDefinition{out("queries", HandleQueries, "Queries", "right")},
			DefaultConfig: map[string]interface{}{
				"enabled": true, "mode": "conditional", "confidence_threshold": 0.75, "max_rephrasings": 3, "concurrent": true,
			},
			Service:              ServiceOpenRouter,
			APIKeyEnv:            "OPENROUTER_API_KEY",
			EstimatedLatencyMs:   1000,
			EstimatedCostPerCall: 0.001,
		},
		{
			Type: QdrantRetrieval, Category: CategoryRetrieval, Label: "Qdrant Retrieval",
			Description: "Vector similarity search against a Qdrant collection",
			Inputs:      []HandleDefinition{in("queries", HandleQueries, "Queries", true)},
			Outputs:     []HandleDefinition{out("documents", HandleDocuments, "Documents", "right")},
			DefaultConfig: map[string]interface{}{
				"collection": "enterprise_pipeline", "top_k": 20, "score_threshold": 0.3,
			},
			Service:            ServiceQdrant,
			EstimatedLatencyMs: 50,
		},
		{
			Type: Deduplication, Category: CategoryRetrieval, Label: "Deduplication",
			Description:        "Cosine similarity dedup",
			Inputs:             []HandleDefinition{in("documents_in", HandleDocuments, "Documents", true)},
			Outputs:            []HandleDefinition{out("documents_out", HandleDocuments, "Documents (unique)", "right")},
			DefaultConfig:      map[string]interface{}{"threshold": 0.95},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 5,
		},
		{
			Type: CohereRerank, Category: CategoryRetrieval, Label: "Cohere Rerank",
			Description: "Neural reranking via Cohere API",
			Inputs: []HandleDefinition{
				in("documents_in", HandleDocuments, "Documents", true),
				in("query", HandleQuery, "Query", true),
			},
			Outputs:              []HandleDefinition{out("documents_out", HandleDocuments, "Documents (ranked)", "right")},
			DefaultConfig:        map[string]interface{}{"model": "rerank-english-v3.0", "top_n": 5},
			Service:              ServiceCohere,
			APIKeyEnv:            "COHERE_API_KEY",
			EstimatedLatencyMs:   200,
			EstimatedCostPerCall: 0.001,
		},
		{
			Type: BM25Compression, Category: CategoryCompression, Label: "BM25 Compression",
			Description: "Sub-scoring compression that removes low-relevance sentences",
			Inputs: []HandleDefinition{
				in("documents_in", HandleDocuments, "Documents", true),
				in("query", HandleQuery, "Query", true),
			},
			Outputs:            []HandleDefinition{out("context", HandleContext, "Context", "right")},
			DefaultConfig:      map[string]interface{}{"min_score_ratio": 0.3, "token_budget": 4000},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 10,
		},
		{
			Type: ModelRouter, Category: CategoryGeneration, Label: "Model Router",
			Description: "Selects a model based on query complexity",
			Inputs: []HandleDefinition{
				in("query", HandleQuery, "Query", true),
				in("route", HandleRoute, "Route", false),
				in("context", HandleContext, "Context", false),
			},
			Outputs: []HandleDefinition{out("config", HandleConfig, "Model Config", "right")},
			DefaultConfig: map[string]interface{}{
				"enabled": true, "fast_model": "anthropic/claude-haiku-4-5",
				"standard_model": "anthropic/claude-sonnet-4-5", "force_model": "",
			},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 1,
		},
		{
			Type: LLMGeneration, Category: CategoryGeneration, Label: "LLM Generation",
			Description: "Generate response via OpenRouter",
			Inputs: []HandleDefinition{
				in("context", HandleContext, "Context", false),
				in("query", HandleQuery, "Query", true),
				in("model_config", HandleConfig, "Model Config", false),
			},
			Outputs: []HandleDefinition{out("response", HandleResponse, "Response", "right")},
			DefaultConfig: map[string]interface{}{
				"model": "anthropic/claude-sonnet-4-5", "temperature": 0.1, "max_tokens": 1024,
			},
			Service:              ServiceOpenRouter,
			APIKeyEnv:            "OPENROUTER_API_KEY",
			EstimatedLatencyMs:   1500,
			EstimatedCostPerCall: 0.005,
		},
		{
			Type: HHEMChecker, Category: CategoryQuality, Label: "HHEM Hallucination Check",
			Description: "Faithfulness scoring of the response against the context",
			Inputs: []HandleDefinition{
				in("response", HandleResponse, "Response", true),
				in("context", HandleContext, "Context", true),
			},
			Outputs: []HandleDefinition{
				out("quality", HandleQuality, "Quality", "bottom"),
				out("response_out", HandleResponse, "Response (scored)", "right"),
			},
			DefaultConfig:      map[string]interface{}{"threshold_pass": 0.85, "threshold_warn": 0.70, "aggregation": "max"},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 150,
		},
		{
			Type: OutputSchema, Category: CategoryQuality, Label: "Output Schema Validator",
			Description: "Per-route JSON schema validation",
			Inputs: []HandleDefinition{
				in("response", HandleResponse, "Response", true),
				in("route", HandleRoute, "Route", false),
			},
			Outputs:            []HandleDefinition{out("response_out", HandleResponse, "Response (validated)", "right")},
			DefaultConfig:      map[string]interface{}{"strict": true, "schema_overrides": map[string]interface{}{}},
			Service:            ServiceLocal,
			EstimatedLatencyMs: 1,
		},
		{
			Type: LangfuseTracing, Category: CategoryObservability, Label: "Langfuse Tracing",
			Description: "Trace recording to Langfuse",
			Inputs: []HandleDefinition{
				in("response", HandleResponse, "Response", false),
				in("quality", HandleQuality, "Quality", false),
			},
			Outputs:       []HandleDefinition{out("trace", HandleTrace, "Trace", "right")},
			DefaultConfig: map[string]interface{}{"enabled": true, "sample_rate": 1.0},
			Service:       ServiceLangfuse,
			APIKeyEnv:     "LANGFUSE_SECRET_KEY",
		},
		{
			Type: PrometheusMetrics, Category: CategoryObservability, Label: "Prometheus Metrics",
			Description:   "Live metrics collection",
			Inputs:        []HandleDefinition{in("response", HandleResponse, "Response", false)},
			DefaultConfig: map[string]interface{}{"enabled": true, "endpoint": "/metrics", "poll_interval_ms": 5000},
			Service:       ServiceLocal,
		},
		{
			Type: ResponseOutput, Category: CategoryOutput, Label: "Response Output",
			Description: "Final response delivery",
			Inputs: []HandleDefinition{
				in("response", HandleResponse, "Response", true),
				in("quality", HandleQuality, "Quality", false),
				in("trace", HandleTrace, "Trace", false),
			},
			DefaultConfig: map[string]interface{}{"include_metadata": true, "include_scores": true},
			Service:       ServiceLocal,
		},
	}
}

// Default returns a registry holding the built-in catalog.
func Default() *Registry {
	r, err := New(DefaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return r
}
