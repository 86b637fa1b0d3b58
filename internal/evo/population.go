package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/model"
)

// EliteCount is the number of top genomes copied unchanged into the next
// generation.
const EliteCount = 2

// Evaluate scores every genome and returns them sorted by descending fitness.
// The sort is stable, so ties keep their population order. Stateful
// evaluators run sequentially in population order; pure evaluators run on up
// to workers goroutines, each writing its own slot.
func Evaluate(ctx context.Context, population []model.Genome, evaluator fitness.Evaluator, fc fitness.Context, workers int) ([]ScoredGenome, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("fitness evaluator is required")
	}

	scored := make([]ScoredGenome, len(population))
	if evaluator.Stateful() || workers <= 1 || len(population) < 2 {
		for i, genome := range population {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			value, err := evaluator.Score(ctx, genome, fc)
			if err != nil {
				return nil, fmt.Errorf("evaluate genome %d: %w", i, err)
			}
			scored[i] = ScoredGenome{Genome: genome, Fitness: value}
		}
	} else {
		if workers > len(population) {
			workers = len(population)
		}
		p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
		for i, genome := range population {
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				value, err := evaluator.Score(ctx, genome, fc)
				if err != nil {
					return fmt.Errorf("evaluate genome %d: %w", i, err)
				}
				scored[i] = ScoredGenome{Genome: genome, Fitness: value}
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Fitness > scored[j].Fitness
	})
	return scored, nil
}

// NextGeneration builds a population of len(ranked) genomes using weighted
// parent selection.
func NextGeneration(rng *rand.Rand, ranked []ScoredGenome, mutationCount int, mutationProbability float64) ([]model.Genome, error) {
	return nextGeneration(rng, ranked, WeightedSelector{}, mutationCount, mutationProbability)
}

// nextGeneration copies the two fittest genomes unchanged, then fills the
// remaining slots with mutated crossover children, two per selected pair.
// When the slots left are odd the surplus child is dropped, keeping the
// population size constant.
func nextGeneration(rng *rand.Rand, ranked []ScoredGenome, selector Selector, mutationCount int, mutationProbability float64) ([]model.Genome, error) {
	if len(ranked) < EliteCount {
		return nil, fmt.Errorf("ranked population must hold at least %d genomes, got %d", EliteCount, len(ranked))
	}

	next := make([]model.Genome, 0, len(ranked)+1)
	for _, elite := range ranked[:EliteCount] {
		next = append(next, elite.Genome.Clone())
	}

	for len(next) < len(ranked) {
		a, b, err := selector.PickPair(rng, ranked)
		if err != nil {
			return nil, fmt.Errorf("select parents: %w", err)
		}
		childA, childB, err := Crossover(rng, a, b)
		if err != nil {
			return nil, err
		}
		childA, err = Mutate(rng, childA, mutationCount, mutationProbability)
		if err != nil {
			return nil, err
		}
		childB, err = Mutate(rng, childB, mutationCount, mutationProbability)
		if err != nil {
			return nil, err
		}
		next = append(next, childA, childB)
	}
	return next[:len(ranked)], nil
}
