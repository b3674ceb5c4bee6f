package graph

import (
	"errors"
	"fmt"

	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

// ErrUnknownNode is returned when an edge references a node that does not exist
var ErrUnknownNode = errors.New("unknown node")

// IsValidConnection reports whether conn may be added between the given nodes.
// Both nodes must exist with registered types, both handles must exist on their
// definitions, and the handle types must be identical.
func IsValidConnection(reg *registry.Registry, conn Connection, nodes []Node) bool {
	var source, target *Node
	for i := range nodes {
		if nodes[i].ID == conn.Source {
			source = &nodes[i]
		}
		if nodes[i].ID == conn.Target {
			target = &nodes[i]
		}
	}
	if source == nil || target == nil || source.Type == "" || target.Type == "" {
		return false
	}

	sourceType, ok := reg.HandleType(source.Type, conn.SourceHandle, registry.Output)
	if !ok {
		return false
	}
	targetType, ok := reg.HandleType(target.Type, conn.TargetHandle, registry.Input)
	if !ok {
		return false
	}
	return sourceType == targetType
}

// IsDuplicate reports whether an edge with the same endpoints and handles exists
func IsDuplicate(conn Connection, edges []Edge) bool {
	for _, e := range edges {
		if e.Connection() == conn {
			return true
		}
	}
	return false
}

// Validate checks every edge of the pipeline and returns all problems joined.
func Validate(reg *registry.Registry, p Pipeline) error {
	var errs []error

	seenNodes := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if seenNodes[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))
		}
		seenNodes[n.ID] = true
		if !reg.Has(n.Type) {
			errs = append(errs, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type))
		}
	}

	seenEdges := make(map[Connection]string, len(p.Edges))
	for _, e := range p.Edges {
		if !seenNodes[e.Source] {
			errs = append(errs, fmt.Errorf("edge %q source %q: %w", e.ID, e.Source, ErrUnknownNode))
			continue
		}
		if !seenNodes[e.Target] {
			errs = append(errs, fmt.Errorf("edge %q target %q: %w", e.ID, e.Target, ErrUnknownNode))
			continue
		}
		conn := e.Connection()
		if prev, dup := seenEdges[conn]; dup {
			errs = append(errs, fmt.Errorf("edge %q duplicates edge %q", e.ID, prev))
			continue
		}
		seenEdges[conn] = e.ID
		if !IsValidConnection(reg, conn, p.Nodes) {
			errs = append(errs, fmt.Errorf("edge %q connects incompatible handles %s.%s -> %s.%s",
				e.ID, e.Source, e.SourceHandle, e.Target, e.TargetHandle))
		}
	}

	return errors.Join(errs...)
}
