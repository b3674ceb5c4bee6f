package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/middleware"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
	"github.com/tcmartin/pipelinestudio/pkg/storage"
)

// MaxBatchQueries bounds a single batch request
const MaxBatchQueries = 100

// ExecuteRequest starts a run
type ExecuteRequest struct {
	Query    string      `json:"query"`
	Mode     models.Mode `json:"mode,omitempty"`
	UserID   string      `json:"user_id,omitempty"`
	TenantID string      `json:"tenant_id,omitempty"`
}

// ExecuteResponse acknowledges a started run
type ExecuteResponse struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}

// BatchRequest runs several queries one after another
type BatchRequest struct {
	Queries  []string    `json:"queries"`
	Mode     models.Mode `json:"mode,omitempty"`
	UserID   string      `json:"user_id,omitempty"`
	TenantID string      `json:"tenant_id,omitempty"`
}

// runRequest fills mode and identity. Authenticated callers always run as themselves.
func (s *Server) runRequest(r *http.Request, query string, mode models.Mode, userID, tenantID string) runtime.Request {
	if mode == "" {
		mode = models.Mode(s.config.Executor.DefaultMode)
	}
	if id, ok := middleware.GetUserID(r); ok {
		userID = id
		tenantID, _ = middleware.GetTenantID(r)
	}
	if userID == "" {
		userID = s.config.Executor.DefaultUserID
	}
	if tenantID == "" {
		tenantID = s.config.Executor.DefaultTenantID
	}
	return runtime.Request{Query: query, Mode: mode, UserID: userID, TenantID: tenantID}
}

// modeAvailable gates live and stream runs on the last health check
func (s *Server) modeAvailable(mode models.Mode) bool {
	if s.monitor == nil {
		return true
	}
	return s.monitor.ModeAvailable(mode)
}

// writeStartError maps executor start failures to HTTP statuses
func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrExecutionInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, runtime.ErrUnknownMode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, runtime.ErrNoBackend):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleExecute starts a run in the background and answers 202 with its ID
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	req := s.runRequest(r, body.Query, body.Mode, body.UserID, body.TenantID)
	if !req.Mode.Valid() {
		http.Error(w, runtime.ErrUnknownMode.Error(), http.StatusBadRequest)
		return
	}
	if !s.modeAvailable(req.Mode) {
		http.Error(w, "Pipeline backend is unavailable; use demo mode", http.StatusServiceUnavailable)
		return
	}

	runID, _, err := s.executor.Start(s.ctx, req)
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ExecuteResponse{RunID: runID, Status: models.RunRunning})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	runID := s.executor.ActiveRunID()
	s.executor.Abort()
	if runID != "" {
		s.log.Info("run aborted by request", logging.F("run_id", runID))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aborted_run_id": runID,
		"status":         s.store.Status(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.executor.Running() {
		http.Error(w, "Cannot reset while a run is active", http.StatusConflict)
		return
	}
	s.store.ResetExecution()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleListRuns merges persisted runs with the in-memory history, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := runtime.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	persisted, err := s.runs.ListRuns(limit)
	if err != nil {
		s.log.Error("failed to list runs", logging.Err(err))
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	seen := make(map[string]bool)
	var out []models.ExecutionRun
	for _, run := range s.store.Runs() {
		seen[run.ID] = true
		out = append(out, run)
	}
	for _, run := range persisted {
		if !seen[run.ID] {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.ExecutionRun{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if run, ok := s.store.Run(id); ok {
		writeJSON(w, http.StatusOK, run)
		return
	}
	run, err := s.runs.GetRun(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("failed to get run", logging.F("run_id", id), logging.Err(err))
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleBatch runs the queries sequentially for the lifetime of the request.
// A client disconnect aborts the active run and leaves the rest pending.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	var queries []string
	for _, q := range body.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		http.Error(w, "at least one query is required", http.StatusBadRequest)
		return
	}
	if len(queries) > MaxBatchQueries {
		http.Error(w, "too many queries in batch", http.StatusBadRequest)
		return
	}

	req := s.runRequest(r, "", body.Mode, body.UserID, body.TenantID)
	if !req.Mode.Valid() {
		http.Error(w, runtime.ErrUnknownMode.Error(), http.StatusBadRequest)
		return
	}
	if !s.modeAvailable(req.Mode) {
		http.Error(w, "Pipeline backend is unavailable; use demo mode", http.StatusServiceUnavailable)
		return
	}
	if s.executor.Running() {
		http.Error(w, runtime.ErrExecutionInProgress.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, s.executor.RunBatch(r.Context(), queries, req))
}

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	modes := make(map[models.Mode]bool)
	for _, m := range []models.Mode{models.ModeDemo, models.ModeLive, models.ModeStream} {
		modes[m] = s.modeAvailable(m)
	}
	resp := map[string]interface{}{"modes": modes}
	if s.monitor != nil {
		resp["backend"] = s.monitor.Status()
		resp["metrics"] = s.monitor.Metrics()
	}
	writeJSON(w, http.StatusOK, resp)
}
