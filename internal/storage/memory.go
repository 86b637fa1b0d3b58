package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

type generationKey struct {
	runID      string
	generation int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.Run
	generations map[generationKey]model.Generation
	populations map[string]model.Population
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.Run)
	s.generations = make(map[generationKey]model.Generation)
	s.populations = make(map[string]model.Population)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	run.Config = append([]byte(nil), run.Config...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAtUTC.Equal(runs[j].CreatedAtUTC) {
			return runs[i].CreatedAtUTC.Before(runs[j].CreatedAtUTC)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *MemoryStore) SaveGeneration(_ context.Context, generation model.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	generation.Ranked = append([]model.RankedGenome(nil), generation.Ranked...)
	s.generations[generationKey{runID: generation.RunID, generation: generation.Generation}] = generation
	return nil
}

func (s *MemoryStore) GetGeneration(_ context.Context, runID string, generation int) (model.Generation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.generations[generationKey{runID: runID, generation: generation}]
	return record, ok, nil
}

func (s *MemoryStore) ListGenerations(_ context.Context, runID string) ([]model.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Generation
	for key, record := range s.generations {
		if key.runID == runID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Generation < out[j].Generation
	})
	return out, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	population.Genomes = append([]string(nil), population.Genomes...)
	s.populations[population.RunID] = population
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, runID string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	population, ok := s.populations[runID]
	return population, ok, nil
}

var errNotInitialized = errors.New("store is not initialized")
