package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	r := Default()
	assert.Len(t, r.Types(), 18)

	d, ok := r.Get(LLMGeneration)
	require.True(t, ok)
	assert.Equal(t, CategoryGeneration, d.Category)
	assert.Equal(t, ServiceOpenRouter, d.Service)
	assert.Equal(t, 1500.0, d.EstimatedLatencyMs)
	assert.Equal(t, 0.005, d.EstimatedCostPerCall)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestHandlesAreUniquePerSide(t *testing.T) {
	for _, d := range Default().Definitions() {
		for _, side := range [][]HandleDefinition{d.Inputs, d.Outputs} {
			seen := map[string]bool{}
			for _, h := range side {
				assert.False(t, seen[h.ID], "%s has duplicate handle %s", d.Type, h.ID)
				seen[h.ID] = true
			}
		}
	}
}

func TestHandleType(t *testing.T) {
	r := Default()

	ht, ok := r.HandleType(SafetyGate, "pii_result", Input)
	require.True(t, ok)
	assert.Equal(t, HandleSafetyResult, ht)

	ht, ok = r.HandleType(SemanticRouter, "route", Output)
	require.True(t, ok)
	assert.Equal(t, HandleRoute, ht)

	_, ok = r.HandleType(SemanticRouter, "route", Input)
	assert.False(t, ok)

	_, ok = r.HandleType("unknown", "query", Output)
	assert.False(t, ok)
}

func TestLatencyAndCost(t *testing.T) {
	r := Default()
	assert.Equal(t, 150.0, r.LatencyOr(LakeraGuard, 10))
	assert.Equal(t, 10.0, r.LatencyOr(QueryInput, 10))
	assert.Equal(t, 10.0, r.LatencyOr("unknown", 10))
	assert.Equal(t, 0.001, r.Cost(CohereRerank))
	assert.Zero(t, r.Cost(PIIDetector))
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(Definition{Type: "a"}, Definition{Type: "a"})
	assert.Error(t, err)

	_, err = New(Definition{})
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := `nodes:
  llm_generation:
    label: Generation
    estimated_latency_ms: 900
  cohere_rerank:
    estimated_cost_per_call: 0.002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	base := Default()
	r, err := base.LoadOverrides(path)
	require.NoError(t, err)

	d, _ := r.Get(LLMGeneration)
	assert.Equal(t, "Generation", d.Label)
	assert.Equal(t, 900.0, d.EstimatedLatencyMs)
	assert.Equal(t, 0.005, d.EstimatedCostPerCall)
	assert.Equal(t, 0.002, r.Cost(CohereRerank))

	// the base registry is untouched
	assert.Equal(t, 1500.0, base.LatencyOr(LLMGeneration, 0))
}

func TestOverridesRejectUnknownType(t *testing.T) {
	f, err := ParseOverrides([]byte("nodes:\n  ghost:\n    estimated_latency_ms: 5\n"))
	require.NoError(t, err)
	_, err = Default().WithOverrides(f)
	assert.Error(t, err)
}

func TestTypeSet(t *testing.T) {
	s := NewTypeSet("b", "a", "b")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
	assert.Equal(t, []string{"a", "b"}, s.Sorted())
}
