package evo

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
)

type DriverConfig struct {
	Params              melody.Params
	PopulationSize      int
	MutationCount       int
	MutationProbability float64
	Evaluator           fitness.Evaluator
	Ratings             ratings.Store
	Selector            Selector
	Workers             int
	Seed                int64
}

// Generation is the record yielded for one evaluated population. Ranked and
// Fitness are ordered by descending fitness; Next is the population that the
// following call to Driver.Next evaluates. All slices are owned by the record.
type Generation struct {
	ID          int
	Ranked      []model.Genome
	Next        []model.Genome
	Fitness     []ScoredGenome
	Diagnostics model.GenerationDiagnostics
}

// Best returns the fittest genome of the generation.
func (g Generation) Best() ScoredGenome {
	if len(g.Fitness) == 0 {
		return ScoredGenome{}
	}
	return g.Fitness[0]
}

// Driver evolves a population one generation per call to Next. It has no
// termination condition of its own. A Driver is not safe for concurrent use.
type Driver struct {
	cfg        DriverConfig
	rng        *rand.Rand
	population []model.Genome
	nextID     int
}

// NewDriver validates cfg and seeds a random initial population.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	cfg, err := validateDriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	population, err := Initialize(rng, cfg.PopulationSize, cfg.Params.GenomeLength())
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, rng: rng, population: population}, nil
}

// Resume restarts evolution from a persisted population. The next record
// produced has ID nextID.
func Resume(cfg DriverConfig, population []model.Genome, nextID int) (*Driver, error) {
	cfg, err := validateDriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	if len(population) != cfg.PopulationSize {
		return nil, fmt.Errorf("population mismatch: got=%d want=%d", len(population), cfg.PopulationSize)
	}
	if nextID < 0 {
		return nil, fmt.Errorf("next generation id must be >= 0")
	}
	length := cfg.Params.GenomeLength()
	restored := make([]model.Genome, len(population))
	for i, genome := range population {
		if len(genome) != length {
			return nil, fmt.Errorf("genome %d: %w: got %d bits, want %d", i, melody.ErrGenomeLength, len(genome), length)
		}
		restored[i] = genome.Clone()
	}
	return &Driver{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed + int64(nextID))),
		population: restored,
		nextID:     nextID,
	}, nil
}

func validateDriverConfig(cfg DriverConfig) (DriverConfig, error) {
	if err := cfg.Params.Validate(); err != nil {
		return cfg, err
	}
	if cfg.PopulationSize < EliteCount {
		return cfg, fmt.Errorf("population size must be >= %d", EliteCount)
	}
	if cfg.MutationCount < 0 {
		return cfg, fmt.Errorf("mutation count must be >= 0")
	}
	if cfg.MutationProbability < 0 || cfg.MutationProbability > 1 {
		return cfg, fmt.Errorf("mutation probability must be in [0, 1]")
	}
	if cfg.Evaluator == nil {
		return cfg, fmt.Errorf("fitness evaluator is required")
	}
	if _, ok := cfg.Evaluator.(fitness.Rating); ok && cfg.Ratings == nil {
		return cfg, fitness.ErrNoRatingStore
	}
	if cfg.Selector == nil {
		cfg.Selector = WeightedSelector{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Population returns a copy of the population the next call to Next evaluates.
func (d *Driver) Population() []model.Genome {
	return cloneGenomes(d.population)
}

// NextID is the ID of the record the next call to Next produces.
func (d *Driver) NextID() int {
	return d.nextID
}

// Next shuffles the current population, evaluates and ranks it, and breeds
// the following population.
func (d *Driver) Next(ctx context.Context) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}

	shuffled := cloneGenomes(d.population)
	d.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	fc := fitness.Context{Params: d.cfg.Params, Ratings: d.cfg.Ratings}
	ranked, err := Evaluate(ctx, shuffled, d.cfg.Evaluator, fc, d.cfg.Workers)
	if err != nil {
		return Generation{}, fmt.Errorf("generation %d: %w", d.nextID, err)
	}

	next, err := nextGeneration(d.rng, ranked, d.cfg.Selector, d.cfg.MutationCount, d.cfg.MutationProbability)
	if err != nil {
		return Generation{}, fmt.Errorf("generation %d: %w", d.nextID, err)
	}

	gen := Generation{
		ID:          d.nextID,
		Ranked:      make([]model.Genome, len(ranked)),
		Next:        cloneGenomes(next),
		Fitness:     make([]ScoredGenome, len(ranked)),
		Diagnostics: Diagnose(ranked),
	}
	for i, scored := range ranked {
		gen.Ranked[i] = scored.Genome.Clone()
		gen.Fitness[i] = ScoredGenome{Genome: scored.Genome.Clone(), Fitness: scored.Fitness}
	}

	d.population = next
	d.nextID++
	return gen, nil
}

// Run calls Next until limit records have been produced (limit > 0) or
// continueFn returns false. continueFn sees every record and may be nil when
// limit is positive. Run returns the number of records produced.
func (d *Driver) Run(ctx context.Context, limit int, continueFn func(Generation) (bool, error)) (int, error) {
	if limit <= 0 && continueFn == nil {
		return 0, fmt.Errorf("run needs a generation limit or a continuation function")
	}

	produced := 0
	for limit <= 0 || produced < limit {
		gen, err := d.Next(ctx)
		if err != nil {
			return produced, err
		}
		produced++
		if continueFn == nil {
			continue
		}
		more, err := continueFn(gen)
		if err != nil {
			return produced, err
		}
		if !more {
			break
		}
	}
	return produced, nil
}

func cloneGenomes(in []model.Genome) []model.Genome {
	out := make([]model.Genome, len(in))
	for i, genome := range in {
		out[i] = genome.Clone()
	}
	return out
}
