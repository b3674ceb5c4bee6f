package storage

import (
	"sort"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// newestFirst sorts runs by start time descending and truncates to limit
func newestFirst(runs []models.ExecutionRun, limit int) []models.ExecutionRun {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

func byName(presets []models.Preset) []models.Preset {
	sort.SliceStable(presets, func(i, j int) bool {
		if presets[i].Name == presets[j].Name {
			return presets[i].ID < presets[j].ID
		}
		return presets[i].Name < presets[j].Name
	})
	return presets
}
