package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// DefaultHistoryLimit is the number of runs kept by default
const DefaultHistoryLimit = 50

// RunSpec describes a run being started
type RunSpec struct {
	Query    string
	UserID   string
	TenantID string
	Mode     models.Mode
}

// Snapshot is a consistent copy of the store state
type Snapshot struct {
	Status        models.RunStatus                `json:"status"`
	CurrentRunID  string                          `json:"current_run_id,omitempty"`
	Nodes         map[string]models.NodeExecution `json:"nodes"`
	AnimatedEdges []string                        `json:"animated_edges,omitempty"`
	Runs          []models.ExecutionRun           `json:"runs"`
}

// StoreOption configures an ExecutionStore
type StoreOption func(*ExecutionStore)

// WithHistoryLimit sets how many runs are kept
func WithHistoryLimit(n int) StoreOption {
	return func(s *ExecutionStore) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithRunSink persists runs when they are finalized
func WithRunSink(sink RunSink) StoreOption {
	return func(s *ExecutionStore) { s.sink = sink }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *ExecutionStore) { s.now = now }
}

// WithStoreLogger sets the store logger
func WithStoreLogger(l logging.Logger) StoreOption {
	return func(s *ExecutionStore) { s.log = l }
}

// ExecutionStore holds the pipeline graph, per-node execution data and run history.
// Runs are only finalized by the holder of the current run ID, so a late result
// from a superseded run cannot overwrite a newer one.
type ExecutionStore struct {
	mu sync.RWMutex

	pipeline graph.Pipeline
	nodes    map[string]*models.NodeExecution
	animated map[string]bool

	status       models.RunStatus
	currentRunID string
	runs         []models.ExecutionRun

	historyLimit int
	sink         RunSink
	now          func() time.Time
	log          logging.Logger

	subs    map[int]chan models.Event
	nextSub int
}

// NewExecutionStore creates an empty store
func NewExecutionStore(opts ...StoreOption) *ExecutionStore {
	s := &ExecutionStore{
		nodes:        make(map[string]*models.NodeExecution),
		animated:     make(map[string]bool),
		status:       models.RunIdle,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		log:          logging.NewNop(),
		subs:         make(map[int]chan models.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPipeline replaces the graph and clears all node execution data
func (s *ExecutionStore) LoadPipeline(p graph.Pipeline) {
	s.mu.Lock()
	s.pipeline = p.Clone()
	s.nodes = make(map[string]*models.NodeExecution)
	s.animated = make(map[string]bool)
	s.emitLocked(models.Event{Type: models.EventPipelineSet})
	s.mu.Unlock()
}

// Pipeline returns a copy of the current graph
func (s *ExecutionStore) Pipeline() graph.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline.Clone()
}

// StartExecution clears every node's execution data and edge pulse, records a
// new running run at the head of the history and makes it the current run.
func (s *ExecutionStore) StartExecution(spec RunSpec) string {
	runID := "run-" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*models.NodeExecution)
	s.animated = make(map[string]bool)
	run := models.ExecutionRun{
		ID:        runID,
		Query:     spec.Query,
		UserID:    spec.UserID,
		TenantID:  spec.TenantID,
		Mode:      spec.Mode,
		Status:    models.RunRunning,
		StartTime: s.now(),
	}
	s.runs = append([]models.ExecutionRun{run}, s.runs...)
	if len(s.runs) > s.historyLimit {
		s.runs = s.runs[:s.historyLimit]
	}
	s.status = models.RunRunning
	s.currentRunID = runID

	s.emitLocked(models.Event{Type: models.EventRunStarted, RunID: runID, Run: &run})
	return runID
}

// SetNodeStatus merges status and the non-nil fields of u into the node's record
func (s *ExecutionStore) SetNodeStatus(nodeID string, status models.NodeStatus, u *models.NodeUpdate) {
	s.mu.Lock()
	s.setNodeLocked(nodeID, status, u)
	s.mu.Unlock()
}

// SetNodeStatusFor is SetNodeStatus restricted to the current run.
// It reports whether the write was applied.
func (s *ExecutionStore) SetNodeStatusFor(runID, nodeID string, status models.NodeStatus, u *models.NodeUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID == "" || runID != s.currentRunID {
		return false
	}
	s.setNodeLocked(nodeID, status, u)
	return true
}

func (s *ExecutionStore) setNodeLocked(nodeID string, status models.NodeStatus, u *models.NodeUpdate) {
	exec, ok := s.nodes[nodeID]
	if !ok {
		exec = &models.NodeExecution{}
		s.nodes[nodeID] = exec
	}
	exec.Apply(status, u)
	snapshot := exec.Clone()
	s.emitLocked(models.Event{Type: models.EventNodeUpdated, RunID: s.currentRunID, NodeID: nodeID, Node: &snapshot})
}

// SetExecutionStatus sets the global status without touching any run record
func (s *ExecutionStore) SetExecutionStatus(status models.RunStatus) {
	s.mu.Lock()
	s.status = status
	s.emitLocked(models.Event{Type: models.EventStatus, Status: status})
	s.mu.Unlock()
}

// SetIdleStatus sets the global status only while no run is current and
// reports whether it did
func (s *ExecutionStore) SetIdleStatus(status models.RunStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRunID != "" {
		return false
	}
	s.status = status
	s.emitLocked(models.Event{Type: models.EventStatus, Status: status})
	return true
}

// CompleteExecution finalizes runID as completed with the given metrics.
// It does nothing and returns false unless runID is the current run.
func (s *ExecutionStore) CompleteExecution(runID string, result models.RunResult) bool {
	return s.finalize(runID, models.RunCompleted, func(r *models.ExecutionRun) {
		r.TotalLatencyMs = result.TotalLatencyMs
		r.TotalCost = result.TotalCost
		r.Route = result.Route
		r.Response = result.Response
	})
}

// FinishExecution finalizes runID with a failure status, error or aborted.
// Like CompleteExecution it only acts on the current run.
func (s *ExecutionStore) FinishExecution(runID string, status models.RunStatus, reason string) bool {
	return s.finalize(runID, status, func(r *models.ExecutionRun) {
		r.Error = reason
	})
}

func (s *ExecutionStore) finalize(runID string, status models.RunStatus, fill func(*models.ExecutionRun)) bool {
	s.mu.Lock()
	if runID == "" || runID != s.currentRunID {
		s.mu.Unlock()
		s.log.Debug("ignoring finalization of stale run",
			logging.F("run_id", runID), logging.F("status", status))
		return false
	}

	s.status = status
	s.currentRunID = ""

	var finalized *models.ExecutionRun
	for i := range s.runs {
		if s.runs[i].ID != runID {
			continue
		}
		end := s.now()
		s.runs[i].Status = status
		s.runs[i].EndTime = &end
		fill(&s.runs[i])
		run := s.runs[i]
		finalized = &run
		break
	}
	if finalized != nil {
		s.emitLocked(models.Event{Type: models.EventRunFinished, RunID: runID, Run: finalized, Status: status})
	}
	sink := s.sink
	s.mu.Unlock()

	if finalized != nil && sink != nil {
		if err := sink.SaveRun(*finalized); err != nil {
			s.log.Error("failed to persist run", logging.F("run_id", runID), logging.Err(err))
		}
	}
	return true
}

// ResetExecution clears node execution data and returns to idle. History is kept.
func (s *ExecutionStore) ResetExecution() {
	s.mu.Lock()
	s.nodes = make(map[string]*models.NodeExecution)
	s.animated = make(map[string]bool)
	s.status = models.RunIdle
	s.emitLocked(models.Event{Type: models.EventReset, Status: models.RunIdle})
	s.mu.Unlock()
}

// SetEdgesAnimated toggles the display pulse of the given edges
func (s *ExecutionStore) SetEdgesAnimated(edgeIDs []string, animated bool) {
	if len(edgeIDs) == 0 {
		return
	}
	s.mu.Lock()
	s.setEdgesLocked(edgeIDs, animated)
	s.mu.Unlock()
}

// SetEdgesAnimatedFor is SetEdgesAnimated for edges pulsed by runID. It does
// nothing while a different run is current.
func (s *ExecutionStore) SetEdgesAnimatedFor(runID string, edgeIDs []string, animated bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRunID != "" && s.currentRunID != runID {
		return false
	}
	if len(edgeIDs) > 0 {
		s.setEdgesLocked(edgeIDs, animated)
	}
	return true
}

func (s *ExecutionStore) setEdgesLocked(edgeIDs []string, animated bool) {
	for _, id := range edgeIDs {
		if animated {
			s.animated[id] = true
		} else {
			delete(s.animated, id)
		}
	}
	ids := append([]string(nil), edgeIDs...)
	s.emitLocked(models.Event{Type: models.EventEdges, EdgeIDs: ids, Animated: animated})
}

// EdgeAnimated reports whether an edge is currently pulsing
func (s *ExecutionStore) EdgeAnimated(edgeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.animated[edgeID]
}

// NodeExecution returns the execution record of a node. The second result is
// false when the node has no data for the current run.
func (s *ExecutionStore) NodeExecution(nodeID string) (models.NodeExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.nodes[nodeID]
	if !ok {
		return models.NodeExecution{}, false
	}
	return exec.Clone(), true
}

// Status returns the global execution status
func (s *ExecutionStore) Status() models.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentRunID returns the ID of the run in progress, or ""
func (s *ExecutionStore) CurrentRunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRunID
}

// Runs returns the run history, newest first
func (s *ExecutionStore) Runs() []models.ExecutionRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ExecutionRun(nil), s.runs...)
}

// Run looks up a run in the history
func (s *ExecutionStore) Run(runID string) (models.ExecutionRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.ID == runID {
			return r, true
		}
	}
	return models.ExecutionRun{}, false
}

// Snapshot returns a copy of the whole store state
func (s *ExecutionStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Status:       s.status,
		CurrentRunID: s.currentRunID,
		Nodes:        make(map[string]models.NodeExecution, len(s.nodes)),
		Runs:         append([]models.ExecutionRun(nil), s.runs...),
	}
	for id, exec := range s.nodes {
		snap.Nodes[id] = exec.Clone()
	}
	for id := range s.animated {
		snap.AnimatedEdges = append(snap.AnimatedEdges, id)
	}
	return snap
}

// Subscribe returns a channel of store events and a function that cancels the
// subscription. Events are dropped for subscribers whose buffer is full.
func (s *ExecutionStore) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
}

func (s *ExecutionStore) emitLocked(ev models.Event) {
	if len(s.subs) == 0 {
		return
	}
	ev.Timestamp = s.now()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Dispose clears all state including history and closes every subscription
func (s *ExecutionStore) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = graph.Pipeline{}
	s.nodes = make(map[string]*models.NodeExecution)
	s.animated = make(map[string]bool)
	s.runs = nil
	s.status = models.RunIdle
	s.currentRunID = ""
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
