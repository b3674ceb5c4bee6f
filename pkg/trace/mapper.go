package trace

import (
	"fmt"
	"math"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

// DefaultWeight is the split weight of a node type without a latency estimate
const DefaultWeight = 10.0

// Mapping is the outcome attributed to one canvas node
type Mapping struct {
	NodeID     string                 `json:"node_id"`
	NodeType   string                 `json:"node_type"`
	Stage      string                 `json:"stage"`
	Status     models.NodeStatus      `json:"status"`
	LatencyMs  float64                `json:"latency_ms"`
	Cost       float64                `json:"cost"`
	InputData  map[string]interface{} `json:"input_data,omitempty"`
	OutputData map[string]interface{} `json:"output_data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	SkipReason string                 `json:"skip_reason,omitempty"`
}

// Update converts the mapping into a store update. Skipped and blocked nodes
// carry no metrics.
func (m Mapping) Update() *models.NodeUpdate {
	u := &models.NodeUpdate{}
	if m.Status == models.NodeSuccess || m.Status == models.NodeError {
		u.LatencyMs = models.Float64(m.LatencyMs)
		u.Cost = models.Float64(m.Cost)
	}
	if m.InputData != nil {
		u.InputData = m.InputData
	}
	if m.OutputData != nil {
		u.OutputData = m.OutputData
	}
	if m.Error != "" {
		u.Error = models.String(m.Error)
	}
	if m.SkipReason != "" {
		u.SkipReason = models.String(m.SkipReason)
	}
	return u
}

// SkipReason is the reason recorded on nodes a route did not run
func SkipReason(route string) string {
	return "Route: " + route
}

// StageFailure is the error recorded on nodes of a failed stage
func StageFailure(stage string) string {
	return fmt.Sprintf("Stage %q failed", stage)
}

// Mapper attributes stage-level timings to individual nodes
type Mapper struct {
	reg         *registry.Registry
	stages      []Stage
	nodeToStage map[string]string
}

// NewMapper creates a mapper over the default stage table
func NewMapper(reg *registry.Registry) *Mapper {
	return NewMapperWithStages(reg, DefaultStages())
}

// NewMapperWithStages creates a mapper over a custom stage table
func NewMapperWithStages(reg *registry.Registry, stages []Stage) *Mapper {
	m := &Mapper{reg: reg, stages: stages, nodeToStage: make(map[string]string)}
	for _, s := range stages {
		for _, t := range s.NodeTypes {
			m.nodeToStage[t] = s.Name
		}
	}
	return m
}

// Stages returns the stage table
func (m *Mapper) Stages() []Stage {
	return m.stages
}

// StageOf returns the stage owning a node type
func (m *Mapper) StageOf(nodeType string) (string, bool) {
	s, ok := m.nodeToStage[nodeType]
	return s, ok
}

// NodesInStage returns the nodes whose type belongs to stage, in node order
func (m *Mapper) NodesInStage(stage string, nodes []graph.Node) []graph.Node {
	var out []graph.Node
	for _, n := range nodes {
		if n.Type != "" && m.nodeToStage[n.Type] == stage {
			out = append(out, n)
		}
	}
	return out
}

// Split divides durationMs across nodes in proportion to their estimated latency,
// rounding each share to two decimals. Shares sum to durationMs within 0.01 per node.
func (m *Mapper) Split(durationMs float64, nodes []graph.Node) []float64 {
	shares := make([]float64, len(nodes))
	if len(nodes) == 0 {
		return shares
	}
	weights := make([]float64, len(nodes))
	var total float64
	for i, n := range nodes {
		weights[i] = m.reg.LatencyOr(n.Type, DefaultWeight)
		total += weights[i]
	}
	for i := range nodes {
		proportion := 1.0 / float64(len(nodes))
		if total > 0 {
			proportion = weights[i] / total
		}
		shares[i] = round2(durationMs * proportion)
	}
	return shares
}

// MapTraceToNodes attributes every span of trace to the canvas nodes of its stage.
// Each node appears exactly once in the result: nodes of stages with a span first,
// in stage order, then every remaining node as skipped with the trace route as reason.
func (m *Mapper) MapTraceToNodes(tr models.Trace, nodes []graph.Node) []Mapping {
	spans := make(map[string]models.Span, len(tr.Spans))
	for _, s := range tr.Spans {
		spans[s.Name] = s
	}

	mappings := make([]Mapping, 0, len(nodes))
	mapped := make(map[string]bool, len(nodes))

	for _, stage := range m.stages {
		span, ok := spans[stage.Name]
		if !ok {
			continue
		}
		members := m.NodesInStage(stage.Name, nodes)
		if len(members) == 0 {
			continue
		}
		shares := m.Split(span.DurationMs, members)
		for i, n := range members {
			if mapped[n.ID] {
				continue
			}
			mp := Mapping{
				NodeID:     n.ID,
				NodeType:   n.Type,
				Stage:      stage.Name,
				Status:     models.NodeSuccess,
				LatencyMs:  shares[i],
				Cost:       m.reg.Cost(n.Type),
				InputData:  span.Input,
				OutputData: span.Output,
			}
			if !span.Succeeded() {
				mp.Status = models.NodeError
				mp.Error = StageFailure(stage.Name)
			}
			mappings = append(mappings, mp)
			mapped[n.ID] = true
		}
	}

	for _, n := range nodes {
		if mapped[n.ID] {
			continue
		}
		mappings = append(mappings, m.skipped(n, tr.Route))
		mapped[n.ID] = true
	}
	return mappings
}

// AllocateByStages builds mappings from response metadata alone. Every stage in
// StagesCompleted gets an equal share of the total latency, split across its nodes
// by estimated latency. Safety nodes are blocked when the safety check failed;
// all other nodes are skipped.
func (m *Mapper) AllocateByStages(meta models.Metadata, nodes []graph.Node) []Mapping {
	completed := make(map[string]bool, len(meta.StagesCompleted))
	for _, s := range meta.StagesCompleted {
		completed[s] = true
	}
	perStage := 0.0
	if len(meta.StagesCompleted) > 0 {
		perStage = meta.LatencyMs / float64(len(meta.StagesCompleted))
	}

	shares := make(map[string]float64)
	for _, stage := range m.stages {
		if !completed[stage.Name] {
			continue
		}
		members := m.NodesInStage(stage.Name, nodes)
		for i, share := range m.Split(perStage, members) {
			shares[members[i].ID] = share
		}
	}

	mappings := make([]Mapping, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true

		stage, ok := m.nodeToStage[n.Type]
		if !ok {
			stage = StageUnknown
		}
		if share, ok := shares[n.ID]; ok {
			mappings = append(mappings, Mapping{
				NodeID:    n.ID,
				NodeType:  n.Type,
				Stage:     stage,
				Status:    models.NodeSuccess,
				LatencyMs: share,
				Cost:      m.reg.Cost(n.Type),
			})
			continue
		}
		if category, _ := m.reg.CategoryOf(n.Type); category == registry.CategorySafety && !meta.SafetyPassed {
			mappings = append(mappings, Mapping{NodeID: n.ID, NodeType: n.Type, Stage: stage, Status: models.NodeBlocked})
			continue
		}
		mappings = append(mappings, m.skipped(n, meta.Route))
	}
	return mappings
}

func (m *Mapper) skipped(n graph.Node, route string) Mapping {
	stage, ok := m.nodeToStage[n.Type]
	if !ok {
		stage = StageUnknown
	}
	return Mapping{
		NodeID:     n.ID,
		NodeType:   n.Type,
		Stage:      stage,
		Status:     models.NodeSkipped,
		SkipReason: SkipReason(route),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
