package models

// QueryRequest is the payload sent to the query and stream endpoints
type QueryRequest struct {
	Query           string                            `json:"query"`
	UserID          string                            `json:"user_id"`
	TenantID        string                            `json:"tenant_id"`
	ConfigOverrides map[string]map[string]interface{} `json:"config_overrides,omitempty"`
}

// Source is a retrieved document backing an answer
type Source struct {
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata summarises a backend run
type Metadata struct {
	Route              string   `json:"route"`
	Model              string   `json:"model"`
	LatencyMs          float64  `json:"latency_ms"`
	TokensUsed         int      `json:"tokens_used"`
	CostUSD            float64  `json:"cost_usd"`
	HallucinationScore float64  `json:"hallucination_score"`
	HallucinationLevel string   `json:"hallucination_level"`
	StagesCompleted    []string `json:"stages_completed"`
	SafetyPassed       bool     `json:"safety_passed"`
}

// Span is the backend trace record of one stage
type Span struct {
	Name       string                 `json:"name"`
	StartTime  string                 `json:"start_time,omitempty"`
	EndTime    string                 `json:"end_time,omitempty"`
	DurationMs float64                `json:"duration_ms"`
	Status     string                 `json:"status"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Succeeded reports whether the span status is success
func (s Span) Succeeded() bool {
	return s.Status == "success"
}

// Trace is the detailed stage trace of a backend run
type Trace struct {
	TraceID         string  `json:"trace_id"`
	Spans           []Span  `json:"spans"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	Model           string  `json:"model"`
	Route           string  `json:"route"`
}

// QueryResponse is the result of the query endpoint
type QueryResponse struct {
	Answer   string   `json:"answer"`
	TraceID  string   `json:"trace_id"`
	Sources  []Source `json:"sources"`
	Metadata Metadata `json:"metadata"`
	Fallback bool     `json:"fallback"`
	Trace    *Trace   `json:"trace,omitempty"`
}

// ServiceHealth is the health of one backend dependency
type ServiceHealth struct {
	Status    string   `json:"status"`
	LatencyMs *float64 `json:"latency_ms,omitempty"`
}

// HealthResponse is the result of the health endpoint
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Services map[string]ServiceHealth `json:"services"`
}

// Reserved stream frame stages
const (
	StageStart    = "_start"
	StageComplete = "_complete"
	StageError    = "_error"
)

// Stream frame statuses
const (
	FrameRunning   = "running"
	FrameCompleted = "completed"
	FrameError     = "error"
)

// StreamResult is the payload of a completion frame
type StreamResult struct {
	Answer   string   `json:"answer"`
	TraceID  string   `json:"trace_id"`
	Sources  []Source `json:"sources"`
	Metadata Metadata `json:"metadata"`
}

// StreamFrame is one progress event of the streaming endpoint
type StreamFrame struct {
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	Progress   float64       `json:"progress,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs *float64      `json:"duration_ms,omitempty"`
	Metadata   *Metadata     `json:"metadata,omitempty"`
	Result     *StreamResult `json:"result,omitempty"`
}
