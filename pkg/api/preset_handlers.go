package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/storage"
)

// CreatePresetRequest saves a pipeline under a name.
// Without a pipeline the currently loaded one is saved.
type CreatePresetRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Pipeline    *graph.Pipeline `json:"pipeline,omitempty"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.presets.ListPresets()
	if err != nil {
		s.log.Error("failed to list presets", logging.Err(err))
		http.Error(w, "Failed to list presets", http.StatusInternalServerError)
		return
	}
	if presets == nil {
		presets = []models.Preset{}
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var req CreatePresetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	p := s.store.Pipeline()
	if req.Pipeline != nil {
		p = req.Pipeline.Clone()
	}
	if len(p.Nodes) == 0 {
		http.Error(w, "pipeline has no nodes", http.StatusBadRequest)
		return
	}
	if err := graph.Validate(s.reg, p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	preset := models.Preset{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Pipeline:    p,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.presets.SavePreset(preset); err != nil {
		s.log.Error("failed to save preset", logging.F("name", preset.Name), logging.Err(err))
		http.Error(w, "Failed to save preset", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, preset)
}

// getPreset writes the error response itself and reports whether the preset was found
func (s *Server) getPreset(w http.ResponseWriter, id string) (models.Preset, bool) {
	preset, err := s.presets.GetPreset(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Preset not found", http.StatusNotFound)
		return models.Preset{}, false
	}
	if err != nil {
		s.log.Error("failed to get preset", logging.F("preset_id", id), logging.Err(err))
		http.Error(w, "Failed to get preset", http.StatusInternalServerError)
		return models.Preset{}, false
	}
	return preset, true
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	if preset, ok := s.getPreset(w, mux.Vars(r)["id"]); ok {
		writeJSON(w, http.StatusOK, preset)
	}
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.presets.DeletePreset(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Preset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("failed to delete preset", logging.F("preset_id", id), logging.Err(err))
		http.Error(w, "Failed to delete preset", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadPreset replaces the loaded pipeline with a saved one
func (s *Server) handleLoadPreset(w http.ResponseWriter, r *http.Request) {
	preset, ok := s.getPreset(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	if err := graph.Validate(s.reg, preset.Pipeline); err != nil {
		http.Error(w, "Preset no longer matches the node registry: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if s.executor.Running() {
		http.Error(w, "Cannot replace the pipeline while a run is active", http.StatusConflict)
		return
	}
	s.store.LoadPipeline(preset.Pipeline)
	s.log.Info("preset loaded", logging.F("preset_id", preset.ID), logging.F("name", preset.Name))
	writeJSON(w, http.StatusOK, preset.Pipeline)
}
