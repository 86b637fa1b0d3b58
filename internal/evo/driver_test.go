package evo

import (
	"context"
	"strconv"
	"testing"

	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
)

func testDriverConfig() DriverConfig {
	return DriverConfig{
		Params:              melody.Params{Bars: 2, NotesPerBar: 4, Steps: 2, AllowRests: true, Key: "C", Scale: "major", ScaleRoot: 4},
		PopulationSize:      6,
		MutationCount:       2,
		MutationProbability: 0.5,
		Evaluator:           fitness.Automated{},
		Workers:             1,
		Seed:                42,
	}
}

func TestDriverProducesSequentialGenerations(t *testing.T) {
	driver, err := NewDriver(testDriverConfig())
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	for want := 0; want < 4; want++ {
		gen, err := driver.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if gen.ID != want {
			t.Fatalf("expected generation %d, got %d", want, gen.ID)
		}
		if len(gen.Ranked) != 6 || len(gen.Next) != 6 || len(gen.Fitness) != 6 {
			t.Fatalf("generation %d: population size changed: %d/%d/%d", want, len(gen.Ranked), len(gen.Next), len(gen.Fitness))
		}
		for i := 1; i < len(gen.Fitness); i++ {
			if gen.Fitness[i].Fitness > gen.Fitness[i-1].Fitness {
				t.Fatalf("generation %d not ranked descending", want)
			}
		}
		for i := 0; i < EliteCount; i++ {
			if !gen.Next[i].Equal(gen.Ranked[i]) {
				t.Fatalf("generation %d: elite %d not carried over", want, i)
			}
		}
		if gen.Diagnostics.BestFitness != gen.Best().Fitness {
			t.Fatalf("diagnostics best %f != ranked best %f", gen.Diagnostics.BestFitness, gen.Best().Fitness)
		}
	}
	if driver.NextID() != 4 {
		t.Fatalf("expected next id 4, got %d", driver.NextID())
	}
}

func TestDriverRecordsAreIndependentCopies(t *testing.T) {
	driver, err := NewDriver(testDriverConfig())
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	gen, err := driver.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	before := driver.Population()
	gen.Next[0][0] ^= 1
	gen.Ranked[0][0] ^= 1
	after := driver.Population()
	for i := range before {
		if !before[i].Equal(after[i]) {
			t.Fatalf("mutating a record changed the driver population at %d", i)
		}
	}
	if !after[0].Equal(gen.Fitness[0].Genome) {
		t.Fatal("expected fitness pairs to keep their own copy of the elite")
	}
}

func TestDriverIsDeterministicForSeed(t *testing.T) {
	run := func(workers int) []Generation {
		cfg := testDriverConfig()
		cfg.Workers = workers
		driver, err := NewDriver(cfg)
		if err != nil {
			t.Fatalf("new driver: %v", err)
		}
		var out []Generation
		if _, err := driver.Run(context.Background(), 3, func(gen Generation) (bool, error) {
			out = append(out, gen)
			return true, nil
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
		return out
	}

	first := run(1)
	second := run(4)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 generations each, got %d and %d", len(first), len(second))
	}
	for g := range first {
		for i := range first[g].Fitness {
			a, b := first[g].Fitness[i], second[g].Fitness[i]
			if !a.Genome.Equal(b.Genome) || a.Fitness != b.Fitness {
				t.Fatalf("generation %d rank %d differs between runs", g, i)
			}
		}
	}
}

func TestDriverRunStopsOnContinuation(t *testing.T) {
	driver, err := NewDriver(testDriverConfig())
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	produced, err := driver.Run(context.Background(), 0, func(gen Generation) (bool, error) {
		return gen.ID < 2, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if produced != 3 {
		t.Fatalf("expected 3 generations, got %d", produced)
	}

	if _, err := driver.Run(context.Background(), 0, nil); err == nil {
		t.Fatal("expected error for an unbounded run without continuation")
	}
}

func TestDriverRatingModeConsumesSubmittedRatings(t *testing.T) {
	ctx := context.Background()
	store := ratings.NewMemoryStore()
	cfg := testDriverConfig()
	cfg.PopulationSize = 3
	cfg.Evaluator = fitness.Rating{}
	cfg.Ratings = store
	cfg.Workers = 4

	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	for i, rating := range []int{1, 5, 3} {
		if err := store.Submit(ctx, "major-C-"+strconv.Itoa(i)+".mid", rating); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	gen, err := driver.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := []float64{5, 3, 1}
	for i, scored := range gen.Fitness {
		if scored.Fitness != want[i] {
			t.Fatalf("rank %d: got fitness %f want %f", i, scored.Fitness, want[i])
		}
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Fatalf("expected all ratings consumed, %d left", n)
	}

	gen, err = driver.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	for i, scored := range gen.Fitness {
		if scored.Fitness != 0 {
			t.Fatalf("rank %d: expected 0 without ratings, got %f", i, scored.Fitness)
		}
	}

	cfg.Ratings = nil
	if _, err := NewDriver(cfg); err == nil {
		t.Fatal("expected error for rating mode without a store")
	}
}

func TestResume(t *testing.T) {
	cfg := testDriverConfig()
	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	gen, err := driver.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	resumed, err := Resume(cfg, gen.Next, gen.ID+1)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	next, err := resumed.Next(context.Background())
	if err != nil {
		t.Fatalf("next after resume: %v", err)
	}
	if next.ID != 1 {
		t.Fatalf("expected resumed generation 1, got %d", next.ID)
	}

	found := false
	for _, genome := range next.Ranked {
		if genome.Equal(gen.Next[0]) {
			found = true
		}
	}
	if !found {
		t.Fatal("resumed generation did not evaluate the persisted population")
	}

	if _, err := Resume(cfg, gen.Next[:2], 1); err == nil {
		t.Fatal("expected population size mismatch")
	}
	short := append([]model.Genome{{1, 0}}, gen.Next[1:]...)
	if _, err := Resume(cfg, short, 1); err == nil {
		t.Fatal("expected genome length error")
	}
}

func TestNewDriverValidation(t *testing.T) {
	cases := []func(*DriverConfig){
		func(c *DriverConfig) { c.PopulationSize = 1 },
		func(c *DriverConfig) { c.MutationCount = -1 },
		func(c *DriverConfig) { c.MutationProbability = 2 },
		func(c *DriverConfig) { c.Evaluator = nil },
		func(c *DriverConfig) { c.Params.Key = "H" },
		func(c *DriverConfig) { c.Params.Bars = 0 },
	}
	for i, mutate := range cases {
		cfg := testDriverConfig()
		mutate(&cfg)
		if _, err := NewDriver(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
