package api

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/monitor"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/routes"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
	"github.com/tcmartin/pipelinestudio/pkg/services"
)

type fakeGate struct {
	down bool
}

func (g *fakeGate) ModeAvailable(mode models.Mode) bool {
	return mode == models.ModeDemo || !g.down
}

func (g *fakeGate) Status() monitor.BackendStatus {
	return monitor.BackendStatus{Connected: !g.down, Version: "test"}
}

func (g *fakeGate) Metrics() monitor.MetricsSnapshot {
	return monitor.MetricsSnapshot{Values: map[string]float64{"rag_requests_total": 3}}
}

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	store    *runtime.ExecutionStore
	executor *runtime.Executor
	cfg      *config.Config
}

type envOption func(*config.Config, *runtime.Timing, *Dependencies)

// withSlowDemo makes every demo level wait an hour so a run stays active until aborted
func withSlowDemo() envOption {
	return func(_ *config.Config, t *runtime.Timing, _ *Dependencies) {
		t.LevelCap = time.Hour
		t.MinLatencyMs = float64(time.Hour / time.Millisecond)
	}
}

func withJWT(secret string) envOption {
	return func(c *config.Config, _ *runtime.Timing, _ *Dependencies) { c.Auth.JWTSecret = secret }
}

func withGate(g BackendGate) envOption {
	return func(_ *config.Config, _ *runtime.Timing, d *Dependencies) { d.Monitor = g }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	reg := registry.Default()
	p, err := loader.DefaultPipeline(reg)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Auth.RequestsPerMinute = 0
	timing := runtime.DefaultTiming()
	timing.LevelCap = time.Millisecond
	timing.DemoPulse = 0
	deps := Dependencies{Registry: reg}
	for _, opt := range opts {
		opt(cfg, &timing, &deps)
	}

	store := runtime.NewExecutionStore()
	store.LoadPipeline(p)
	picker, err := routes.NewPicker([]routes.Weight{{Route: routes.Chitchat, Weight: 1}}, rand.NewSource(1))
	require.NoError(t, err)
	executor := runtime.NewExecutor(store, reg, runtime.WithTiming(timing), runtime.WithPicker(picker))

	deps.Store = store
	deps.Executor = executor
	srv := NewServer(cfg, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, store: store, executor: executor, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+"/api/v1"+path, r)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.executor.Running() }, 5*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestRegistryAndRoutes(t *testing.T) {
	env := newTestEnv(t)

	var defs []registry.Definition
	decode(t, env.do(t, http.MethodGet, "/registry", nil), &defs)
	assert.Len(t, defs, 18)

	var infos []RouteInfo
	decode(t, env.do(t, http.MethodGet, "/routes", nil), &infos)
	require.Len(t, infos, 5)
	for _, info := range infos {
		if info.Route == routes.OutOfScope {
			assert.Contains(t, info.Active, registry.ResponseOutput)
			assert.Contains(t, info.Skipped, "qdrant_retrieval")
		}
	}
}

func TestPipelineEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var p graph.Pipeline
	decode(t, env.do(t, http.MethodGet, "/pipeline", nil), &p)
	assert.Len(t, p.Nodes, 18)

	resp := env.do(t, http.MethodGet, "/pipeline?format=yaml&name=exported", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	def, err := loader.NewLoader(registry.Default()).Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "exported", def.Metadata.Name)

	doc := "nodes:\n  - {id: in, type: query_input}\n  - {id: out, type: response_output}\n"
	resp = env.do(t, http.MethodPut, "/pipeline", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.store.Pipeline().Nodes, 2)

	resp = env.do(t, http.MethodPut, "/pipeline", "nodes:\n  - {id: a, type: warp_drive}\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, env.store.Pipeline().Nodes, 2)
}

func TestValidateConnection(t *testing.T) {
	env := newTestEnv(t)

	var check ConnectionCheck
	decode(t, env.do(t, http.MethodPost, "/pipeline/connections/validate", graph.Connection{
		Source: "query_input", Target: "injection_filter", SourceHandle: "query", TargetHandle: "query_in",
	}), &check)
	assert.True(t, check.Valid)
	assert.True(t, check.Duplicate)

	decode(t, env.do(t, http.MethodPost, "/pipeline/connections/validate", graph.Connection{
		Source: "query_input", Target: "deduplication", SourceHandle: "query", TargetHandle: "documents_in",
	}), &check)
	assert.False(t, check.Valid)
	assert.False(t, check.Duplicate)
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t)

	var sched Schedule
	decode(t, env.do(t, http.MethodGet, "/pipeline/schedule", nil), &sched)
	require.NotEmpty(t, sched.Levels)
	assert.Equal(t, []string{"query_input"}, sched.Levels[0])
	assert.Empty(t, sched.Unscheduled)

	var chitchat Schedule
	decode(t, env.do(t, http.MethodGet, "/pipeline/schedule?route=chitchat", nil), &chitchat)
	var scheduled []string
	for _, level := range chitchat.Levels {
		scheduled = append(scheduled, level...)
	}
	assert.NotContains(t, scheduled, "qdrant_retrieval")
	assert.Contains(t, scheduled, "llm_generation")

	resp := env.do(t, http.MethodGet, "/pipeline/schedule?route=nowhere", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteDemoRun(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "hello there"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started ExecuteResponse
	decode(t, resp, &started)
	require.NotEmpty(t, started.RunID)
	env.waitIdle(t)

	var run models.ExecutionRun
	decode(t, env.do(t, http.MethodGet, "/runs/"+started.RunID, nil), &run)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, routes.Chitchat, run.Route)
	assert.Equal(t, env.cfg.Executor.DefaultUserID, run.UserID)

	var runs []models.ExecutionRun
	decode(t, env.do(t, http.MethodGet, "/runs?limit=5", nil), &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, started.RunID, runs[0].ID)

	var snap runtime.Snapshot
	decode(t, env.do(t, http.MethodGet, "/executions/state", nil), &snap)
	assert.Equal(t, models.RunCompleted, snap.Status)
	assert.Equal(t, models.NodeSkipped, snap.Nodes["qdrant_retrieval"].Status)

	resp = env.do(t, http.MethodPost, "/executions/reset", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, models.RunIdle, env.store.Status())
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, withGate(&fakeGate{down: true}))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "  "}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/executions", "{").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "q", Mode: "turbo"}).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "q", Mode: models.ModeLive}).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/runs/run-missing", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/runs?limit=zero", nil).StatusCode)
}

func TestExecuteWithoutBackendIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "q", Mode: models.ModeStream})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestConcurrentExecutionAndAbort(t *testing.T) {
	env := newTestEnv(t, withSlowDemo())

	resp := env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "slow"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started ExecuteResponse
	decode(t, resp, &started)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "again"}).StatusCode)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/executions/reset", nil).StatusCode)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPut, "/pipeline", "nodes:\n  - {id: a, type: query_input}\n").StatusCode)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/batch", BatchRequest{Queries: []string{"x"}}).StatusCode)

	var aborted map[string]interface{}
	decode(t, env.do(t, http.MethodPost, "/executions/abort", nil), &aborted)
	assert.Equal(t, started.RunID, aborted["aborted_run_id"])
	assert.Equal(t, string(models.RunAborted), aborted["status"])
	env.waitIdle(t)

	run, ok := env.store.Run(started.RunID)
	require.True(t, ok)
	assert.Equal(t, models.RunAborted, run.Status)
}

func TestBatch(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/batch", BatchRequest{Queries: []string{" ", ""}}).StatusCode)

	resp := env.do(t, http.MethodPost, "/batch", BatchRequest{Queries: []string{"one", "two", " "}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report runtime.BatchReport
	decode(t, resp, &report)
	require.Len(t, report.Items, 2)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, map[string]int{routes.Chitchat: 2}, report.RouteCounts)
	assert.Len(t, env.store.Runs(), 2)
}

func TestPresets(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/presets", CreatePresetRequest{}).StatusCode)

	resp := env.do(t, http.MethodPost, "/presets", CreatePresetRequest{Name: "full", Description: "everything"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var full models.Preset
	decode(t, resp, &full)
	assert.Len(t, full.Pipeline.Nodes, 18)

	small := graph.Pipeline{Nodes: []graph.Node{{ID: "in", Type: registry.QueryInput}}}
	resp = env.do(t, http.MethodPost, "/presets", CreatePresetRequest{Name: "small", Pipeline: &small})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var smallPreset models.Preset
	decode(t, resp, &smallPreset)

	var list []models.Preset
	decode(t, env.do(t, http.MethodGet, "/presets", nil), &list)
	require.Len(t, list, 2)
	assert.Equal(t, "full", list[0].Name)

	resp = env.do(t, http.MethodPost, "/presets/"+smallPreset.ID+"/load", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.store.Pipeline().Nodes, 1)

	var got models.Preset
	decode(t, env.do(t, http.MethodGet, "/presets/"+full.ID, nil), &got)
	assert.Equal(t, "everything", got.Description)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/presets/"+full.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/presets/"+full.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/presets/"+full.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/presets/"+full.ID+"/load", nil).StatusCode)
}

func TestBackendStatus(t *testing.T) {
	env := newTestEnv(t, withGate(&fakeGate{down: true}))

	var body struct {
		Modes   map[models.Mode]bool    `json:"modes"`
		Backend monitor.BackendStatus   `json:"backend"`
		Metrics monitor.MetricsSnapshot `json:"metrics"`
	}
	decode(t, env.do(t, http.MethodGet, "/backend/status", nil), &body)
	assert.Equal(t, map[models.Mode]bool{models.ModeDemo: true, models.ModeLive: false, models.ModeStream: false}, body.Modes)
	assert.False(t, body.Backend.Connected)
	assert.Equal(t, 3.0, body.Metrics.Values["rag_requests_total"])
}

func TestJWTAuthentication(t *testing.T) {
	env := newTestEnv(t, withJWT("s3cret"))
	token, err := services.NewTokenService("s3cret", 1).GenerateToken("alice", "acme")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/registry", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/registry", nil, "Authorization", "Bearer "+token).StatusCode)

	resp := env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "who am i", UserID: "mallory"}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started ExecuteResponse
	decode(t, resp, &started)
	env.waitIdle(t)

	run, ok := env.store.Run(started.RunID)
	require.True(t, ok)
	assert.Equal(t, "alice", run.UserID)
	assert.Equal(t, "acme", run.TenantID)
}

func TestServerSentEvents(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "sse"}).StatusCode)

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			seen[strings.TrimSpace(strings.TrimPrefix(line, "event:"))] = true
		}
		if seen[string(models.EventRunFinished)] {
			break
		}
	}
	assert.True(t, seen[string(models.EventRunStarted)])
	assert.True(t, seen[string(models.EventNodeUpdated)])
	assert.True(t, seen[string(models.EventRunFinished)])
}

func TestWebSocketUpdates(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, models.RunIdle, first.State.Status)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	var pong Update
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	require.Eventually(t, func() bool { return env.srv.ws.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/executions", ExecuteRequest{Query: "ws"}).StatusCode)

	for {
		var u Update
		require.NoError(t, conn.ReadJSON(&u))
		if u.Type == "event" && u.Event != nil && u.Event.Type == models.EventRunFinished {
			require.NotNil(t, u.Event.Run)
			assert.Equal(t, models.RunCompleted, u.Event.Run.Status)
			break
		}
	}
}
