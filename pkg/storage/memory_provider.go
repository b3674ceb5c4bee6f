package storage

import (
	"sync"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// MemoryProvider implements Provider using in-memory storage
type MemoryProvider struct {
	runStore    *MemoryRunStore
	presetStore *MemoryPresetStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		runStore:    NewMemoryRunStore(),
		presetStore: NewMemoryPresetStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	return nil
}

// Runs returns the run store
func (p *MemoryProvider) Runs() RunStore {
	return p.runStore
}

// Presets returns the preset store
func (p *MemoryProvider) Presets() PresetStore {
	return p.presetStore
}

// MemoryRunStore implements RunStore using in-memory storage
type MemoryRunStore struct {
	runs map[string]models.ExecutionRun
	mu   sync.RWMutex
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]models.ExecutionRun)}
}

// SaveRun persists a run
func (s *MemoryRunStore) SaveRun(run models.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run
func (s *MemoryRunStore) GetRun(runID string) (models.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return models.ExecutionRun{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *MemoryRunStore) ListRuns(limit int) ([]models.ExecutionRun, error) {
	s.mu.RLock()
	runs := make([]models.ExecutionRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()
	return newestFirst(runs, limit), nil
}

// MemoryPresetStore implements PresetStore using in-memory storage
type MemoryPresetStore struct {
	presets map[string]models.Preset
	mu      sync.RWMutex
}

// NewMemoryPresetStore creates a new in-memory preset store
func NewMemoryPresetStore() *MemoryPresetStore {
	return &MemoryPresetStore{presets: make(map[string]models.Preset)}
}

// SavePreset persists a preset
func (s *MemoryPresetStore) SavePreset(preset models.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	preset.Pipeline = preset.Pipeline.Clone()
	s.presets[preset.ID] = preset
	return nil
}

// GetPreset retrieves a preset
func (s *MemoryPresetStore) GetPreset(id string) (models.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	preset, ok := s.presets[id]
	if !ok {
		return models.Preset{}, ErrNotFound
	}
	preset.Pipeline = preset.Pipeline.Clone()
	return preset, nil
}

// ListPresets returns all presets ordered by name
func (s *MemoryPresetStore) ListPresets() ([]models.Preset, error) {
	s.mu.RLock()
	presets := make([]models.Preset, 0, len(s.presets))
	for _, p := range s.presets {
		presets = append(presets, p)
	}
	s.mu.RUnlock()
	return byName(presets), nil
}

// DeletePreset removes a preset
func (s *MemoryPresetStore) DeletePreset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.presets[id]; !ok {
		return ErrNotFound
	}
	delete(s.presets, id)
	return nil
}
