// Package loader reads pipeline definitions from YAML and JSON documents.
package loader

import (
	"time"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
)

// CurrentVersion is the pipeline document version written by this package
const CurrentVersion = 1

// PipelineLoader parses pipeline documents into graphs
type PipelineLoader interface {
	// Parse converts a YAML or JSON document into a validated pipeline
	Parse(content []byte) (*PipelineDefinition, error)

	// Validate checks a document without returning the pipeline
	Validate(content []byte) error
}

// PipelineDefinition is a pipeline document
type PipelineDefinition struct {
	Version  int              `yaml:"version" json:"version"`
	Metadata PipelineMetadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Nodes    []graph.Node     `yaml:"nodes" json:"nodes"`
	Edges    []graph.Edge     `yaml:"edges" json:"edges"`
	SavedAt  *time.Time       `yaml:"saved_at,omitempty" json:"savedAt,omitempty"`
}

// Pipeline returns the graph of the document
func (d *PipelineDefinition) Pipeline() graph.Pipeline {
	return graph.Pipeline{Nodes: d.Nodes, Edges: d.Edges}.Clone()
}

// PipelineMetadata contains information about the pipeline
type PipelineMetadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}
