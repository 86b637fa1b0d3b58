package storage

import (
	"context"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

// Store persists runs, their evaluated generations, and the population each
// run will evaluate next.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	// ListRuns returns runs oldest first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	SaveGeneration(ctx context.Context, generation model.Generation) error
	GetGeneration(ctx context.Context, runID string, generation int) (model.Generation, bool, error)
	// ListGenerations returns the generations of a run in ascending order.
	ListGenerations(ctx context.Context, runID string) ([]model.Generation, error)
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, runID string) (model.Population, bool, error)
}
