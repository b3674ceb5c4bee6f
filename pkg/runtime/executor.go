package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/routes"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

var (
	// ErrExecutionInProgress is returned when a run is started while another is active
	ErrExecutionInProgress = errors.New("execution already in progress")

	// ErrNoBackend is returned for live and stream runs without a configured backend
	ErrNoBackend = errors.New("no pipeline backend configured")

	// ErrUnknownMode is returned for an unrecognised execution mode
	ErrUnknownMode = errors.New("unknown execution mode")

	errStaleRun = errors.New("run is no longer current")
)

// Timing tunes the simulated and display timings of the executor
type Timing struct {
	// LevelCap bounds the wall-clock wait of one demo level
	LevelCap time.Duration

	// Jitter is the relative spread applied to simulated latencies
	Jitter float64

	// MinLatencyMs is the floor of a simulated node latency
	MinLatencyMs float64

	// DefaultLatencyMs is simulated for types without an estimate
	DefaultLatencyMs float64

	// DemoPulse and StreamPulse are how long edges stay animated
	DemoPulse   time.Duration
	StreamPulse time.Duration
}

// DefaultTiming returns the standard executor timings
func DefaultTiming() Timing {
	return Timing{
		LevelCap:         2 * time.Second,
		Jitter:           0.3,
		MinLatencyMs:     10,
		DefaultLatencyMs: 50,
		DemoPulse:        600 * time.Millisecond,
		StreamPulse:      500 * time.Millisecond,
	}
}

// TimingFromConfig converts executor settings, keeping defaults for unset values
func TimingFromConfig(c config.ExecutorConfig) Timing {
	t := DefaultTiming()
	if c.LevelCapMs > 0 {
		t.LevelCap = time.Duration(c.LevelCapMs) * time.Millisecond
	}
	if c.JitterFraction > 0 {
		t.Jitter = c.JitterFraction
	}
	if c.MinLatencyMs > 0 {
		t.MinLatencyMs = c.MinLatencyMs
	}
	if c.DefaultLatencyMs > 0 {
		t.DefaultLatencyMs = c.DefaultLatencyMs
	}
	if c.DemoPulseMs > 0 {
		t.DemoPulse = time.Duration(c.DemoPulseMs) * time.Millisecond
	}
	if c.StreamPulseMs > 0 {
		t.StreamPulse = time.Duration(c.StreamPulseMs) * time.Millisecond
	}
	return t
}

// Request is one execution request
type Request struct {
	Query    string      `json:"query"`
	UserID   string      `json:"user_id"`
	TenantID string      `json:"tenant_id"`
	Mode     models.Mode `json:"mode"`
}

func (r Request) queryRequest() models.QueryRequest {
	return models.QueryRequest{Query: r.Query, UserID: r.UserID, TenantID: r.TenantID}
}

// Option configures an Executor
type Option func(*Executor)

// WithBackend sets the backend used by live and stream runs
func WithBackend(b Backend) Option {
	return func(e *Executor) { e.backend = b }
}

// WithRouteTable replaces the default route table
func WithRouteTable(t *routes.Table) Option {
	return func(e *Executor) { e.routes = t }
}

// WithPicker replaces the demo route picker
func WithPicker(p *routes.Picker) Option {
	return func(e *Executor) { e.picker = p }
}

// WithTiming replaces the default timings
func WithTiming(t Timing) Option {
	return func(e *Executor) { e.timing = t }
}

// WithLogger sets the executor logger
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// Executor runs the pipeline held by an ExecutionStore in one of three modes.
// At most one run is active at a time.
type Executor struct {
	store   *ExecutionStore
	reg     *registry.Registry
	routes  *routes.Table
	mapper  *trace.Mapper
	picker  *routes.Picker
	backend Backend
	timing  Timing
	log     logging.Logger

	mu     sync.Mutex
	token  uint64
	active *activeRun
}

type activeRun struct {
	token  uint64
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor creates an executor writing to store
func NewExecutor(store *ExecutionStore, reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		reg:    reg,
		routes: routes.Default(),
		mapper: trace.NewMapper(reg),
		timing: DefaultTiming(),
		log:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.picker == nil {
		e.picker = defaultPicker()
	}
	return e
}

// Start begins a run in the background and returns its ID and a channel closed
// when the run's strategy has returned. The run is cancelled when ctx is done
// or Abort is called.
func (e *Executor) Start(ctx context.Context, req Request) (string, <-chan struct{}, error) {
	if req.Mode == "" {
		req.Mode = models.ModeDemo
	}
	if !req.Mode.Valid() {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownMode, req.Mode)
	}
	if req.Mode != models.ModeDemo && e.backend == nil {
		return "", nil, ErrNoBackend
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return "", nil, ErrExecutionInProgress
	}

	p := e.store.Pipeline()
	runID := e.store.StartExecution(RunSpec{
		Query:    req.Query,
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Mode:     req.Mode,
	})

	runCtx, cancel := context.WithCancel(ctx)
	e.token++
	run := &activeRun{token: e.token, runID: runID, cancel: cancel, done: make(chan struct{})}
	e.active = run
	e.mu.Unlock()

	e.log.LogRunEvent(runID, "run started", map[string]interface{}{
		"mode":  string(req.Mode),
		"nodes": len(p.Nodes),
	})

	go e.run(runCtx, run, p, req)
	return runID, run.done, nil
}

// Execute runs a query to completion. Strategy failures are recorded in the
// store rather than returned; the error only reports a run that could not start.
func (e *Executor) Execute(ctx context.Context, req Request) (string, error) {
	runID, done, err := e.Start(ctx, req)
	if err != nil {
		return "", err
	}
	<-done
	return runID, nil
}

// Abort cancels the active run and sets the status to aborted. It is safe to
// call at any time, including when nothing is running.
func (e *Executor) Abort() {
	e.mu.Lock()
	run := e.active
	e.active = nil
	e.mu.Unlock()

	if run != nil {
		run.cancel()
		if e.store.FinishExecution(run.runID, models.RunAborted, "aborted") {
			e.log.LogRunEvent(run.runID, "run aborted", nil)
		}
	}
	// a run started after the unlock above keeps its status
	e.store.SetIdleStatus(models.RunAborted)
}

// Running reports whether a run is active
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// ActiveRunID returns the ID of the active run, or ""
func (e *Executor) ActiveRunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.runID
}

func (e *Executor) release(run *activeRun) {
	e.mu.Lock()
	if e.active != nil && e.active.token == run.token {
		e.active = nil
	}
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, run *activeRun, p graph.Pipeline, req Request) {
	defer close(run.done)
	defer e.release(run)
	defer run.cancel()

	started := time.Now()
	var err error
	switch req.Mode {
	case models.ModeLive:
		err = e.runLive(ctx, run.runID, p, req)
	case models.ModeStream:
		err = e.runStream(ctx, run.runID, p, req)
	default:
		err = e.runDemo(ctx, run.runID, p)
	}

	if err == nil {
		e.log.LogRunEvent(run.runID, "run finished", map[string]interface{}{
			"mode":       string(req.Mode),
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		return
	}

	if errors.Is(err, errStaleRun) {
		e.log.Debug("run superseded", logging.F("run_id", run.runID))
		return
	}

	if ctx.Err() != nil {
		e.store.FinishExecution(run.runID, models.RunAborted, "aborted")
		e.log.Info("run cancelled", logging.F("run_id", run.runID), logging.F("mode", req.Mode))
		return
	}

	e.log.Error("run failed", logging.F("run_id", run.runID), logging.F("mode", req.Mode), logging.Err(err))
	e.store.FinishExecution(run.runID, models.RunError, err.Error())
}

func defaultPicker() *routes.Picker {
	p, err := routes.NewPicker(routes.DefaultWeights, nil)
	if err != nil {
		panic(fmt.Sprintf("runtime: invalid default route weights: %v", err))
	}
	return p
}

// pulse animates edges for d on behalf of runID, then clears them unless a
// newer run has started
func (e *Executor) pulse(runID string, edgeIDs []string, d time.Duration) {
	if len(edgeIDs) == 0 || d <= 0 {
		return
	}
	if !e.store.SetEdgesAnimatedFor(runID, edgeIDs, true) {
		return
	}
	time.AfterFunc(d, func() {
		e.store.SetEdgesAnimatedFor(runID, edgeIDs, false)
	})
}

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ctx.Err()
	}
}
