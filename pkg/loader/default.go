package loader

import (
	_ "embed"
	"fmt"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

//go:embed default_pipeline.yaml
var defaultPipeline []byte

// DefaultDocument returns the embedded default pipeline document
func DefaultDocument() []byte {
	return append([]byte(nil), defaultPipeline...)
}

// DefaultPipeline parses the embedded pipeline covering every catalog node type
func DefaultPipeline(reg *registry.Registry) (graph.Pipeline, error) {
	def, err := NewLoader(reg).Parse(defaultPipeline)
	if err != nil {
		return graph.Pipeline{}, fmt.Errorf("default pipeline: %w", err)
	}
	return def.Pipeline(), nil
}
