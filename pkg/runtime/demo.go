package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

// unscheduledReason is recorded on nodes the demo schedule never reached
const unscheduledReason = "never scheduled: dependency cycle"

// runDemo simulates a run without a backend. A route is drawn at random, nodes
// off that route are skipped, and the remaining nodes run level by level with
// jittered registry latencies.
func (e *Executor) runDemo(ctx context.Context, runID string, p graph.Pipeline) error {
	route := e.picker.Next()
	active, _ := trace.ActiveNodeTypesForRoute(route)
	reason := trace.SkipReason(route)

	for _, n := range p.Nodes {
		if !active.Has(n.Type) {
			e.store.SetNodeStatusFor(runID, n.ID, models.NodeSkipped, &models.NodeUpdate{SkipReason: &reason})
		}
	}

	sub := p.Subgraph(func(n graph.Node) bool { return active.Has(n.Type) })
	levels, err := graph.Levels(sub.NodeIDs(), sub.Edges)
	var schedErr *graph.SchedulingError
	if errors.As(err, &schedErr) {
		e.log.Warn("demo schedule is incomplete",
			logging.F("run_id", runID), logging.F("unscheduled", schedErr.Unscheduled))
		for _, id := range schedErr.Unscheduled {
			e.store.SetNodeStatusFor(runID, id, models.NodeError, &models.NodeUpdate{Error: models.String(unscheduledReason)})
		}
	}

	types := make(map[string]string, len(p.Nodes))
	for _, n := range p.Nodes {
		types[n.ID] = n.Type
	}

	var totalLatency, totalCost float64
	simulated := 0
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		latencies := make([]float64, len(level))
		var slowest float64
		for i, id := range level {
			if !e.store.SetNodeStatusFor(runID, id, models.NodeRunning, nil) {
				return errStaleRun
			}
			latencies[i] = e.simulatedLatency(types[id])
			slowest = math.Max(slowest, latencies[i])
		}

		wait := time.Duration(slowest * float64(time.Millisecond))
		if e.timing.LevelCap > 0 && wait > e.timing.LevelCap {
			wait = e.timing.LevelCap
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		for i, id := range level {
			cost := e.reg.Cost(types[id])
			ok := e.store.SetNodeStatusFor(runID, id, models.NodeSuccess, &models.NodeUpdate{
				LatencyMs: models.Float64(round2(latencies[i])),
				Cost:      models.Float64(cost),
			})
			if !ok {
				return errStaleRun
			}
			e.pulse(runID, p.OutgoingEdgeIDs(id), e.timing.DemoPulse)
			totalCost += cost
			simulated++
		}
		totalLatency += float64(wait) / float64(time.Millisecond)
	}

	e.store.CompleteExecution(runID, models.RunResult{
		TotalLatencyMs: round2(totalLatency),
		TotalCost:      totalCost,
		Route:          route,
		Response: fmt.Sprintf("Demo run on route %s simulated %d of %d nodes. Configure a pipeline backend for real responses.",
			route, simulated, len(p.Nodes)),
	})
	return nil
}

// simulatedLatency draws est*(1±jitter), floored at the minimum latency
func (e *Executor) simulatedLatency(nodeType string) float64 {
	est := e.reg.LatencyOr(nodeType, e.timing.DefaultLatencyMs)
	jittered := est * (1 + e.timing.Jitter*(2*e.picker.Float64()-1))
	return math.Max(e.timing.MinLatencyMs, jittered)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
