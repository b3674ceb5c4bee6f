package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

// RouteInfo describes which node types run on a route
type RouteInfo struct {
	Route   string   `json:"route"`
	Active  []string `json:"active"`
	Skipped []string `json:"skipped"`
}

// ConnectionCheck is the answer to a proposed connection
type ConnectionCheck struct {
	Valid     bool `json:"valid"`
	Duplicate bool `json:"duplicate"`
}

// Schedule is the level layout of the loaded pipeline
type Schedule struct {
	Route       string     `json:"route,omitempty"`
	Levels      [][]string `json:"levels"`
	Unscheduled []string   `json:"unscheduled,omitempty"`
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Definitions())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	var out []RouteInfo
	for _, route := range s.routes.Routes() {
		active, _ := s.routes.ActiveNodeTypes(route)
		out = append(out, RouteInfo{
			Route:   route,
			Active:  active.Sorted(),
			Skipped: s.routes.SkippedTypes(route).Sorted(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetPipeline returns the loaded pipeline; ?format=yaml exports a document
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p := s.store.Pipeline()
	format := r.URL.Query().Get("format")
	if format != "yaml" && format != "json" {
		writeJSON(w, http.StatusOK, p)
		return
	}

	data, err := loader.Export(p, loader.PipelineMetadata{Name: r.URL.Query().Get("name")}, format)
	if err != nil {
		http.Error(w, "Failed to export pipeline", http.StatusInternalServerError)
		return
	}
	if format == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(data)
}

// handlePutPipeline replaces the loaded pipeline with a YAML or JSON document
func (s *Server) handlePutPipeline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	def, err := s.loader.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.executor.Running() {
		http.Error(w, "Cannot replace the pipeline while a run is active", http.StatusConflict)
		return
	}

	p := def.Pipeline()
	s.store.LoadPipeline(p)
	s.log.Info("pipeline loaded",
		logging.F("nodes", len(p.Nodes)),
		logging.F("edges", len(p.Edges)))
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleValidateConnection(w http.ResponseWriter, r *http.Request) {
	var conn graph.Connection
	if !decodeJSON(w, r, &conn) {
		return
	}
	p := s.store.Pipeline()
	writeJSON(w, http.StatusOK, ConnectionCheck{
		Valid:     graph.IsValidConnection(s.reg, conn, p.Nodes),
		Duplicate: graph.IsDuplicate(conn, p.Edges),
	})
}

// handleSchedule levels the pipeline; ?route= restricts it to the nodes a demo run activates
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	p := s.store.Pipeline()
	route := r.URL.Query().Get("route")
	if route != "" {
		active, known := trace.ActiveNodeTypesForRoute(route)
		if !known {
			http.Error(w, "Unknown route: "+route, http.StatusBadRequest)
			return
		}
		p = p.Subgraph(func(n graph.Node) bool { return active.Has(n.Type) })
	}

	levels, err := graph.Levels(p.NodeIDs(), p.Edges)
	out := Schedule{Route: route, Levels: levels}
	if out.Levels == nil {
		out.Levels = [][]string{}
	}
	var schedErr *graph.SchedulingError
	if errors.As(err, &schedErr) {
		out.Unscheduled = schedErr.Unscheduled
	}
	writeJSON(w, http.StatusOK, out)
}
