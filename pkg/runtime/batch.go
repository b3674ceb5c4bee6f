package runtime

import (
	"context"
	"sort"

	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// BatchItemStatus is the outcome of one query in a batch
type BatchItemStatus string

const (
	BatchPending BatchItemStatus = "pending"
	BatchSuccess BatchItemStatus = "success"
	BatchError   BatchItemStatus = "error"
)

// BatchItem is the result of one batch query
type BatchItem struct {
	Query     string          `json:"query"`
	RunID     string          `json:"run_id,omitempty"`
	Status    BatchItemStatus `json:"status"`
	Route     string          `json:"route,omitempty"`
	LatencyMs float64         `json:"latency_ms"`
	Cost      float64         `json:"cost"`
	Error     string          `json:"error,omitempty"`
}

// BatchReport aggregates a batch. Latency, cost and route shares are computed
// over successful queries only.
type BatchReport struct {
	Items        []BatchItem        `json:"items"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	AvgLatencyMs float64            `json:"avg_latency_ms"`
	TotalCost    float64            `json:"total_cost"`
	RouteCounts  map[string]int     `json:"route_counts"`
	RouteShares  map[string]float64 `json:"route_shares"`
	Cancelled    bool               `json:"cancelled,omitempty"`
}

// Routes returns the routes seen in the batch, most frequent first
func (r BatchReport) Routes() []string {
	out := make([]string, 0, len(r.RouteCounts))
	for route := range r.RouteCounts {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := r.RouteCounts[out[i]], r.RouteCounts[out[j]]
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	return out
}

// RunBatch executes queries one after another with the mode and identity of
// template. When ctx is cancelled the remaining queries stay pending.
func (e *Executor) RunBatch(ctx context.Context, queries []string, template Request) BatchReport {
	items := make([]BatchItem, len(queries))
	for i, q := range queries {
		items[i] = BatchItem{Query: q, Status: BatchPending}
	}

	cancelled := false
	for i := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		req := template
		req.Query = items[i].Query

		runID, err := e.Execute(ctx, req)
		if err != nil {
			items[i].Status = BatchError
			items[i].Error = err.Error()
			continue
		}
		items[i].RunID = runID

		run, ok := e.store.Run(runID)
		if !ok {
			items[i].Status = BatchError
			items[i].Error = "run missing from history"
			continue
		}
		items[i].Route = run.Route
		items[i].LatencyMs = run.TotalLatencyMs
		items[i].Cost = run.TotalCost
		if run.Status == models.RunCompleted {
			items[i].Status = BatchSuccess
		} else {
			items[i].Status = BatchError
			items[i].Error = run.Error
		}
	}

	report := summarize(items)
	report.Cancelled = cancelled
	e.log.Info("batch finished",
		logging.F("queries", len(items)),
		logging.F("succeeded", report.Succeeded),
		logging.F("failed", report.Failed),
		logging.F("cancelled", cancelled))
	return report
}

func summarize(items []BatchItem) BatchReport {
	report := BatchReport{
		Items:       items,
		RouteCounts: make(map[string]int),
		RouteShares: make(map[string]float64),
	}
	var latency float64
	for _, it := range items {
		switch it.Status {
		case BatchSuccess:
			report.Succeeded++
			latency += it.LatencyMs
			report.TotalCost += it.Cost
			if it.Route != "" {
				report.RouteCounts[it.Route]++
			}
		case BatchError:
			report.Failed++
		}
	}
	if report.Succeeded > 0 {
		report.AvgLatencyMs = round2(latency / float64(report.Succeeded))
		for route, n := range report.RouteCounts {
			report.RouteShares[route] = round2(float64(n) / float64(report.Succeeded))
		}
	}
	return report
}
