// Package storage persists finalized runs and pipeline presets.
package storage

import (
	"errors"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// ErrNotFound is returned when a run or preset does not exist
var ErrNotFound = errors.New("not found")

// Provider is a persistence backend
type Provider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// Runs returns the store for finalized runs
	Runs() RunStore

	// Presets returns the store for saved pipelines
	Presets() PresetStore
}

// RunStore persists finalized execution runs. It satisfies runtime.RunSink.
type RunStore interface {
	// SaveRun inserts or replaces a run
	SaveRun(run models.ExecutionRun) error

	// GetRun retrieves a run by ID
	GetRun(runID string) (models.ExecutionRun, error)

	// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all runs.
	ListRuns(limit int) ([]models.ExecutionRun, error)
}

// PresetStore persists named pipeline graphs
type PresetStore interface {
	SavePreset(preset models.Preset) error
	GetPreset(id string) (models.Preset, error)

	// ListPresets returns all presets ordered by name
	ListPresets() ([]models.Preset, error)

	DeletePreset(id string) error
}
