// Package graph provides the pipeline graph model, connection validation
// and topological scheduling.
package graph

// Position is the canvas location of a node. It has no effect on execution.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one processing step of a pipeline
type Node struct {
	ID       string                 `json:"id" yaml:"id"`
	Type     string                 `json:"type" yaml:"type"`
	Label    string                 `json:"label,omitempty" yaml:"label,omitempty"`
	Position Position               `json:"position" yaml:"position"`
	Config   map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// EdgeCondition labels an edge with the route it belongs to
type EdgeCondition struct {
	Route string `json:"route" yaml:"route"`
}

// Edge connects an output handle of one node to an input handle of another
type Edge struct {
	ID           string         `json:"id" yaml:"id"`
	Source       string         `json:"source" yaml:"source"`
	Target       string         `json:"target" yaml:"target"`
	SourceHandle string         `json:"source_handle" yaml:"source_handle"`
	TargetHandle string         `json:"target_handle" yaml:"target_handle"`
	Animated     bool           `json:"animated,omitempty" yaml:"animated,omitempty"`
	Condition    *EdgeCondition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Connection is a proposed edge before it is added to the graph
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle"`
	TargetHandle string `json:"target_handle"`
}

// Connection returns the endpoints of the edge
func (e Edge) Connection() Connection {
	return Connection{Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle}
}

// Pipeline is a snapshot of nodes and edges
type Pipeline struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node looks up a node by ID
func (p Pipeline) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeIDs returns node IDs in pipeline order
func (p Pipeline) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// OutgoingEdgeIDs returns the IDs of edges leaving the given node
func (p Pipeline) OutgoingEdgeIDs(nodeID string) []string {
	var ids []string
	for _, e := range p.Edges {
		if e.Source == nodeID {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Clone returns a deep copy of the node and edge slices. Node config maps are shared.
func (p Pipeline) Clone() Pipeline {
	out := Pipeline{
		Nodes: make([]Node, len(p.Nodes)),
		Edges: make([]Edge, len(p.Edges)),
	}
	copy(out.Nodes, p.Nodes)
	copy(out.Edges, p.Edges)
	for i, e := range out.Edges {
		if e.Condition != nil {
			c := *e.Condition
			out.Edges[i].Condition = &c
		}
	}
	return out
}

// Subgraph restricts the pipeline to the nodes accepted by keep.
// Edges survive only when both endpoints are kept.
func (p Pipeline) Subgraph(keep func(Node) bool) Pipeline {
	var out Pipeline
	kept := make(map[string]bool)
	for _, n := range p.Nodes {
		if keep(n) {
			out.Nodes = append(out.Nodes, n)
			kept[n.ID] = true
		}
	}
	for _, e := range p.Edges {
		if kept[e.Source] && kept[e.Target] {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}
