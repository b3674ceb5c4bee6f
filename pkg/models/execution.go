// Package models holds the execution state and backend wire types shared across packages.
package models

import (
	"time"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
)

// NodeStatus is the per-run state of a single node
type NodeStatus string

const (
	NodeIdle     NodeStatus = "idle"
	NodeRunning  NodeStatus = "running"
	NodeSuccess  NodeStatus = "success"
	NodeError    NodeStatus = "error"
	NodeBlocked  NodeStatus = "blocked"
	NodeSkipped  NodeStatus = "skipped"
	NodeDisabled NodeStatus = "disabled"
)

// Terminal reports whether the status ends a node's run
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeError, NodeBlocked, NodeSkipped, NodeDisabled:
		return true
	}
	return false
}

// RunStatus is the state of a run or of the executor as a whole
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunAborted   RunStatus = "aborted"
)

// Mode selects an execution strategy
type Mode string

const (
	ModeDemo   Mode = "demo"
	ModeLive   Mode = "live"
	ModeStream Mode = "stream"
)

// Valid reports whether the mode is known
func (m Mode) Valid() bool {
	return m == ModeDemo || m == ModeLive || m == ModeStream
}

// NodeExecution is the mutable per-run record attached to a node
type NodeExecution struct {
	Status     NodeStatus  `json:"status"`
	LatencyMs  *float64    `json:"latency_ms,omitempty"`
	Cost       *float64    `json:"cost,omitempty"`
	InputData  interface{} `json:"input_data,omitempty"`
	OutputData interface{} `json:"output_data,omitempty"`
	Error      string      `json:"error,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
}

// NodeUpdate carries the optional fields of a status change.
// Nil fields leave the existing value in place.
type NodeUpdate struct {
	LatencyMs  *float64
	Cost       *float64
	InputData  interface{}
	OutputData interface{}
	Error      *string
	SkipReason *string
}

// Apply sets the status and merges the non-nil fields of u
func (e *NodeExecution) Apply(status NodeStatus, u *NodeUpdate) {
	e.Status = status
	if u == nil {
		return
	}
	if u.LatencyMs != nil {
		v := *u.LatencyMs
		e.LatencyMs = &v
	}
	if u.Cost != nil {
		v := *u.Cost
		e.Cost = &v
	}
	if u.InputData != nil {
		e.InputData = u.InputData
	}
	if u.OutputData != nil {
		e.OutputData = u.OutputData
	}
	if u.Error != nil {
		e.Error = *u.Error
	}
	if u.SkipReason != nil {
		e.SkipReason = *u.SkipReason
	}
}

// Clone returns a copy that shares no pointers with e
func (e NodeExecution) Clone() NodeExecution {
	out := e
	if e.LatencyMs != nil {
		v := *e.LatencyMs
		out.LatencyMs = &v
	}
	if e.Cost != nil {
		v := *e.Cost
		out.Cost = &v
	}
	return out
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// ExecutionRun records one query execution
type ExecutionRun struct {
	ID             string     `json:"id"`
	Query          string     `json:"query"`
	UserID         string     `json:"user_id,omitempty"`
	TenantID       string     `json:"tenant_id,omitempty"`
	Mode           Mode       `json:"mode,omitempty"`
	Status         RunStatus  `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	TotalLatencyMs float64    `json:"total_latency_ms"`
	TotalCost      float64    `json:"total_cost"`
	Route          string     `json:"route,omitempty"`
	Response       string     `json:"response,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Finalized reports whether the run has reached a terminal status
func (r ExecutionRun) Finalized() bool {
	return r.Status == RunCompleted || r.Status == RunError || r.Status == RunAborted
}

// RunResult carries the aggregate metrics of a completed run
type RunResult struct {
	TotalLatencyMs float64 `json:"total_latency_ms"`
	TotalCost      float64 `json:"total_cost"`
	Route          string  `json:"route"`
	Response       string  `json:"response"`
}

// EventType classifies store change notifications
type EventType string

const (
	EventNodeUpdated EventType = "node_updated"
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventStatus      EventType = "status"
	EventEdges       EventType = "edges"
	EventReset       EventType = "reset"
	EventPipelineSet EventType = "pipeline_set"
)

// Event is a change notification emitted by the execution store
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Node      *NodeExecution `json:"node,omitempty"`
	Run       *ExecutionRun  `json:"run,omitempty"`
	Status    RunStatus      `json:"status,omitempty"`
	EdgeIDs   []string       `json:"edge_ids,omitempty"`
	Animated  bool           `json:"animated,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Preset is a named, saved pipeline
type Preset struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Pipeline    graph.Pipeline `json:"pipeline"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
