package runtime

import (
	"context"
	"fmt"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

// runLive sends the query in one request and maps the returned trace onto the
// canvas. Responses without a trace are attributed from metadata alone.
func (e *Executor) runLive(ctx context.Context, runID string, p graph.Pipeline, req Request) error {
	for _, n := range p.Nodes {
		e.store.SetNodeStatusFor(runID, n.ID, models.NodeRunning, nil)
	}

	resp, err := e.backend.Query(ctx, req.queryRequest())
	if err != nil {
		return fmt.Errorf("live query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var mappings []trace.Mapping
	if resp.Trace != nil && len(resp.Trace.Spans) > 0 {
		tr := *resp.Trace
		if tr.Route == "" {
			tr.Route = resp.Metadata.Route
		}
		mappings = e.mapper.MapTraceToNodes(tr, p.Nodes)
	} else {
		e.log.Debug("response carries no trace, allocating by stage",
			logging.F("run_id", runID), logging.F("stages", len(resp.Metadata.StagesCompleted)))
		mappings = e.mapper.AllocateByStages(resp.Metadata, p.Nodes)
	}

	for _, m := range mappings {
		if !e.store.SetNodeStatusFor(runID, m.NodeID, m.Status, m.Update()) {
			return errStaleRun
		}
	}

	e.store.CompleteExecution(runID, models.RunResult{
		TotalLatencyMs: resp.Metadata.LatencyMs,
		TotalCost:      resp.Metadata.CostUSD,
		Route:          resp.Metadata.Route,
		Response:       resp.Answer,
	})
	return nil
}
