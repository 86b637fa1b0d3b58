package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

var ErrLengthMismatch = errors.New("genomes a and b must be of same length")

// Initialize returns size genomes of length uniformly random bits.
func Initialize(rng *rand.Rand, size, length int) ([]model.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if length <= 0 {
		return nil, fmt.Errorf("genome length must be > 0")
	}

	population := make([]model.Genome, size)
	for i := range population {
		genome := make(model.Genome, length)
		for j := range genome {
			genome[j] = uint8(rng.Intn(2))
		}
		population[i] = genome
	}
	return population, nil
}

// Crossover performs single-point crossover. Genomes shorter than two bits
// are returned as copies; otherwise the split point is drawn from [1, L-1].
func Crossover(rng *rand.Rand, a, b model.Genome) (model.Genome, model.Genome, error) {
	if len(a) != len(b) {
		return nil, nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(a), len(b))
	}
	if len(a) < 2 {
		return a.Clone(), b.Clone(), nil
	}
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}

	p := 1 + rng.Intn(len(a)-1)
	childA := make(model.Genome, 0, len(a))
	childA = append(childA, a[:p]...)
	childA = append(childA, b[p:]...)
	childB := make(model.Genome, 0, len(b))
	childB = append(childB, b[:p]...)
	childB = append(childB, a[p:]...)
	return childA, childB, nil
}

// Mutate runs count trials on a copy of genome. Each trial picks a bit
// uniformly and flips it with the given probability.
func Mutate(rng *rand.Rand, genome model.Genome, count int, probability float64) (model.Genome, error) {
	if count < 0 {
		return nil, fmt.Errorf("mutation count must be >= 0")
	}
	if probability < 0 || probability > 1 {
		return nil, fmt.Errorf("mutation probability must be in [0, 1]")
	}

	mutated := genome.Clone()
	if len(mutated) == 0 {
		return mutated, nil
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	for i := 0; i < count; i++ {
		index := rng.Intn(len(mutated))
		if rng.Float64() < probability {
			mutated[index] ^= 1
		}
	}
	return mutated, nil
}
