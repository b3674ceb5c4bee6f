package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tcmartin/pipelinestudio/pkg/client"
	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

// Messages recorded when a stream ends without a usable result
const (
	streamFailedMessage     = "pipeline stream reported an error"
	missingResultMessage    = "Stream completed without a result payload"
	streamIncompleteMessage = "Stream ended without a completion event"
)

// StreamFailure is a pipeline error reported in-band by the stream
type StreamFailure struct {
	Message string
}

func (e *StreamFailure) Error() string {
	return e.Message
}

// runStream drives node statuses from streamed stage frames
func (e *Executor) runStream(ctx context.Context, runID string, p graph.Pipeline, req Request) error {
	for _, n := range p.Nodes {
		e.store.SetNodeStatusFor(runID, n.ID, models.NodeIdle, nil)
	}

	src, err := e.backend.OpenStream(ctx, req.queryRequest())
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer src.Close()
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	for {
		frame, err := src.Next()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.EOF) {
			break
		}
		var malformed *client.MalformedFrameError
		if errors.As(err, &malformed) {
			e.log.Warn("skipping malformed stream frame", logging.F("run_id", runID), logging.Err(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		done, err := e.applyFrame(runID, p, frame)
		if err != nil || done {
			return err
		}
	}

	if e.store.CurrentRunID() == runID && e.store.Status() == models.RunRunning {
		e.store.CompleteExecution(runID, models.RunResult{Response: streamIncompleteMessage})
	}
	return nil
}

// applyFrame applies one frame to the store. done reports that the run was finalized.
func (e *Executor) applyFrame(runID string, p graph.Pipeline, frame models.StreamFrame) (done bool, err error) {
	switch frame.Stage {
	case models.StageStart:
		for _, n := range p.Nodes {
			e.store.SetNodeStatusFor(runID, n.ID, models.NodeIdle, nil)
		}
		return false, nil

	case models.StageError:
		msg := frame.Error
		if msg == "" {
			msg = streamFailedMessage
		}
		return false, &StreamFailure{Message: msg}

	case models.StageComplete:
		e.completeStream(runID, p, frame.Result)
		return true, nil
	}

	members := e.mapper.NodesInStage(frame.Stage, p.Nodes)
	if len(members) == 0 {
		e.log.Debug("no nodes for stage", logging.F("run_id", runID), logging.F("stage", frame.Stage))
		return false, nil
	}

	switch frame.Status {
	case models.FrameRunning:
		for _, n := range members {
			if !e.store.SetNodeStatusFor(runID, n.ID, models.NodeRunning, nil) {
				return false, errStaleRun
			}
		}

	case models.FrameCompleted:
		var shares []float64
		if frame.DurationMs != nil {
			shares = e.mapper.Split(*frame.DurationMs, members)
		}
		for i, n := range members {
			u := &models.NodeUpdate{Cost: models.Float64(e.reg.Cost(n.Type))}
			if shares != nil {
				u.LatencyMs = models.Float64(shares[i])
			}
			if !e.store.SetNodeStatusFor(runID, n.ID, models.NodeSuccess, u) {
				return false, errStaleRun
			}
			e.pulse(runID, p.OutgoingEdgeIDs(n.ID), e.timing.StreamPulse)
		}

	case models.FrameError:
		msg := frame.Error
		if msg == "" {
			msg = trace.StageFailure(frame.Stage)
		}
		for _, n := range members {
			if !e.store.SetNodeStatusFor(runID, n.ID, models.NodeError, &models.NodeUpdate{Error: models.String(msg)}) {
				return false, errStaleRun
			}
		}
	}
	return false, nil
}

// completeStream marks nodes the route never reached as skipped and finalizes the run
func (e *Executor) completeStream(runID string, p graph.Pipeline, result *models.StreamResult) {
	res := models.RunResult{Response: missingResultMessage}
	if result != nil {
		res = models.RunResult{
			TotalLatencyMs: result.Metadata.LatencyMs,
			TotalCost:      result.Metadata.CostUSD,
			Route:          result.Metadata.Route,
			Response:       result.Answer,
		}
	}

	if res.Route != "" {
		skipped := e.routes.SkippedTypes(res.Route)
		reason := trace.SkipReason(res.Route)
		for _, n := range p.Nodes {
			exec, ok := e.store.NodeExecution(n.ID)
			idle := !ok || exec.Status == models.NodeIdle
			if idle && skipped.Has(n.Type) {
				e.store.SetNodeStatusFor(runID, n.ID, models.NodeSkipped, &models.NodeUpdate{SkipReason: &reason})
			}
		}
	}

	e.store.CompleteExecution(runID, res)
}
