package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/routes"
)

func TestRunBatchAggregatesSuccessfulRuns(t *testing.T) {
	e, store := newTestExecutor(t, catalogPipeline(t), fixedRoute(t, routes.DirectLLM))

	report := e.RunBatch(context.Background(), []string{"a", "b", "c"}, Request{UserID: "u", TenantID: "t"})

	require.Len(t, report.Items, 3)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.False(t, report.Cancelled)
	assert.Equal(t, map[string]int{routes.DirectLLM: 3}, report.RouteCounts)
	assert.Equal(t, 1.0, report.RouteShares[routes.DirectLLM])
	assert.Equal(t, []string{routes.DirectLLM}, report.Routes())

	var sum, cost float64
	for _, it := range report.Items {
		assert.Equal(t, BatchSuccess, it.Status)
		run, ok := store.Run(it.RunID)
		require.True(t, ok)
		assert.Equal(t, it.Query, run.Query)
		assert.Equal(t, "u", run.UserID)
		sum += it.LatencyMs
		cost += it.Cost
	}
	assert.InDelta(t, sum/3, report.AvgLatencyMs, 0.01)
	assert.InDelta(t, cost, report.TotalCost, 1e-9)
}

func TestRunBatchCancelledLeavesRestPending(t *testing.T) {
	e, _ := newTestExecutor(t, catalogPipeline(t), fixedRoute(t, routes.Chitchat))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.RunBatch(ctx, []string{"a", "b"}, Request{})

	assert.True(t, report.Cancelled)
	assert.Equal(t, BatchPending, report.Items[0].Status)
	assert.Equal(t, BatchPending, report.Items[1].Status)
	assert.Zero(t, report.Succeeded+report.Failed)
}

func TestRunBatchRecordsStartFailures(t *testing.T) {
	e, _ := newTestExecutor(t, catalogPipeline(t))

	report := e.RunBatch(context.Background(), []string{"a"}, Request{Mode: models.ModeLive})

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, BatchError, report.Items[0].Status)
	assert.Contains(t, report.Items[0].Error, ErrNoBackend.Error())
	assert.Zero(t, report.AvgLatencyMs)
}

func TestSummarizeIgnoresFailedRunsInAggregates(t *testing.T) {
	report := summarize([]BatchItem{
		{Status: BatchSuccess, Route: "rag", LatencyMs: 100, Cost: 0.01},
		{Status: BatchSuccess, Route: "chitchat", LatencyMs: 200, Cost: 0.02},
		{Status: BatchSuccess, Route: "rag", LatencyMs: 300, Cost: 0.03},
		{Status: BatchError, Route: "rag", LatencyMs: 5000, Cost: 1},
	})

	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 200.0, report.AvgLatencyMs)
	assert.InDelta(t, 0.06, report.TotalCost, 1e-9)
	assert.Equal(t, 0.67, report.RouteShares["rag"])
	assert.Equal(t, []string{"rag", "chitchat"}, report.Routes())
}
