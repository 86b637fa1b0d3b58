package evo

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

// ScoredGenome pairs a genome with its fitness.
type ScoredGenome struct {
	Genome  model.Genome
	Fitness float64
}

// Selector chooses two parents from ranked genomes for reproduction.
type Selector interface {
	Name() string
	PickPair(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, model.Genome, error)
}

// SelectPair picks parents with WeightedSelector.
func SelectPair(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, model.Genome, error) {
	return WeightedSelector{}.PickPair(rng, ranked)
}

// SelectorByName resolves a selector name; the empty name is "weighted".
func SelectorByName(name string) (Selector, error) {
	switch name {
	case "", "weighted":
		return WeightedSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selector: %s", name)
	}
}

// Weight is the number of pool slots a genome with fitness f occupies:
// floor(f)+1 for f >= 0 and 1 otherwise.
func Weight(fitness float64) int64 {
	if math.IsNaN(fitness) || fitness < 0 {
		return 1
	}
	if fitness >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int64(math.Floor(fitness)) + 1
}

// WeightedSelector builds a pool where each genome occupies Weight(fitness)
// slots and draws two distinct slots without replacement. A genome holding
// several slots can therefore be paired with itself.
type WeightedSelector struct{}

func (WeightedSelector) Name() string {
	return "weighted"
}

func (WeightedSelector) PickPair(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, model.Genome, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return nil, nil, fmt.Errorf("ranked population is empty")
	}

	cumulative := make([]int64, len(ranked))
	var total int64
	for i, scored := range ranked {
		total += Weight(scored.Fitness)
		cumulative[i] = total
	}
	if total < 2 {
		return nil, nil, fmt.Errorf("selection pool needs at least 2 slots, got %d", total)
	}

	first := rng.Int63n(total)
	second := rng.Int63n(total - 1)
	if second >= first {
		second++
	}
	return ranked[slotOwner(cumulative, first)].Genome, ranked[slotOwner(cumulative, second)].Genome, nil
}

func slotOwner(cumulative []int64, slot int64) int {
	lo, hi := 0, len(cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if slot < cumulative[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// TournamentSelector samples candidates uniformly and keeps the fittest,
// once per parent.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickPair(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, model.Genome, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return nil, nil, fmt.Errorf("ranked population is empty")
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}
	if tournamentSize > len(ranked) {
		tournamentSize = len(ranked)
	}

	pick := func() model.Genome {
		best := ranked[rng.Intn(len(ranked))]
		for i := 1; i < tournamentSize; i++ {
			candidate := ranked[rng.Intn(len(ranked))]
			if candidate.Fitness > best.Fitness {
				best = candidate
			}
		}
		return best.Genome
	}
	a := pick()
	b := pick()
	return a, b, nil
}
