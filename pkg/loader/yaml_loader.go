package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

// DefaultLoader implements PipelineLoader against a node registry
type DefaultLoader struct {
	reg *registry.Registry
}

// NewLoader creates a loader that validates node types and handles against reg
func NewLoader(reg *registry.Registry) *DefaultLoader {
	return &DefaultLoader{reg: reg}
}

// Parse decodes a YAML or JSON document, fills in missing edge IDs and validates the graph
func (l *DefaultLoader) Parse(content []byte) (*PipelineDefinition, error) {
	def, err := decode(content)
	if err != nil {
		return nil, err
	}

	if def.Version != 0 && def.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported pipeline version %d", def.Version)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("pipeline must have at least one node")
	}
	for i := range def.Edges {
		if def.Edges[i].ID == "" {
			def.Edges[i].ID = "e-" + uuid.NewString()
		}
	}

	if err := graph.Validate(l.reg, def.Pipeline()); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return def, nil
}

// Validate checks a document
func (l *DefaultLoader) Validate(content []byte) error {
	_, err := l.Parse(content)
	return err
}

// LoadFile reads and parses a pipeline file
func (l *DefaultLoader) LoadFile(path string) (*PipelineDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	def, err := l.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// decode accepts JSON when the document starts with '{' and YAML otherwise
func decode(content []byte) (*PipelineDefinition, error) {
	var def PipelineDefinition
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("pipeline document is empty")
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return &def, nil
	}
	if err := yaml.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &def, nil
}

// Export serializes a pipeline. Paths or formats ending in .json produce JSON, anything else YAML.
func Export(p graph.Pipeline, meta PipelineMetadata, format string) ([]byte, error) {
	now := time.Now().UTC()
	def := PipelineDefinition{
		Version:  CurrentVersion,
		Metadata: meta,
		Nodes:    p.Nodes,
		Edges:    p.Edges,
		SavedAt:  &now,
	}
	if strings.HasSuffix(strings.ToLower(format), "json") {
		return json.MarshalIndent(def, "", "  ")
	}
	return yaml.Marshal(def)
}
