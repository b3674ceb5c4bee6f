package routes

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Weight is the probability of drawing a route
type Weight struct {
	Route  string  `json:"route"`
	Weight float64 `json:"weight"`
}

// DefaultWeights is the demo route distribution
var DefaultWeights = []Weight{
	{Route: RAGKnowledgeBase, Weight: 0.50},
	{Route: DirectLLM, Weight: 0.20},
	{Route: Chitchat, Weight: 0.15},
	{Route: CodeGeneration, Weight: 0.10},
	{Route: OutOfScope, Weight: 0.05},
}

// Pick maps a uniform draw u in [0,1) onto the cumulative weights.
// Weights need not sum to one; u is scaled by their total.
func Pick(weights []Weight, u float64) string {
	var total float64
	for _, w := range weights {
		total += w.Weight
	}
	target := u * total
	var cumulative float64
	for _, w := range weights {
		cumulative += w.Weight
		if target < cumulative {
			return w.Route
		}
	}
	if len(weights) == 0 {
		return ""
	}
	return weights[len(weights)-1].Route
}

// Picker draws routes from a weight table using its own random source
type Picker struct {
	mu      sync.Mutex
	rng     *rand.Rand
	weights []Weight
}

// NewPicker creates a picker. A nil source seeds from the clock.
func NewPicker(weights []Weight, src rand.Source) (*Picker, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("route weights are empty")
	}
	for _, w := range weights {
		if w.Weight < 0 {
			return nil, fmt.Errorf("negative weight for route %s", w.Route)
		}
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Picker{rng: rand.New(src), weights: append([]Weight(nil), weights...)}, nil
}

// Next draws one route
func (p *Picker) Next() string {
	p.mu.Lock()
	u := p.rng.Float64()
	p.mu.Unlock()
	return Pick(p.weights, u)
}

// Float64 exposes the picker's random source for latency jitter
func (p *Picker) Float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}
