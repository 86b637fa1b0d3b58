package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

func testRun(id string, created time.Time) model.Run {
	return model.Run{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		CreatedAtUTC:    created,
		FitnessMode:     "automated",
		Key:             "C",
		Scale:           "major",
		Population:      4,
		GenomeLength:    32,
		Config:          json.RawMessage(`{"population_size":4}`),
	}
}

// exerciseStore runs the round trips every backend must support against an
// initialized store. runPrefix keeps ids unique on shared databases.
func exerciseStore(t *testing.T, store Store, runPrefix string) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	older := testRun(runPrefix+"-a", base)
	newer := testRun(runPrefix+"-b", base.Add(time.Minute))
	for _, run := range []model.Run{newer, older} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, older.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatalf("expected run %s", older.ID)
	}
	if loaded.Key != "C" || loaded.GenomeLength != 32 || !loaded.CreatedAtUTC.Equal(base) {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}
	if string(loaded.Config) != `{"population_size":4}` {
		t.Fatalf("unexpected run config: %s", loaded.Config)
	}

	older.Generations = 3
	older.BestFitness = 12.5
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("update run: %v", err)
	}
	updated, _, err := store.GetRun(ctx, older.ID)
	if err != nil {
		t.Fatalf("get updated run: %v", err)
	}
	if updated.Generations != 3 || updated.BestFitness != 12.5 {
		t.Fatalf("run update not persisted: %+v", updated)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	positions := map[string]int{}
	for i, run := range runs {
		positions[run.ID] = i
	}
	if positions[older.ID] >= positions[newer.ID] {
		t.Fatalf("expected %s listed before %s: %+v", older.ID, newer.ID, positions)
	}

	if _, ok, err := store.GetRun(ctx, runPrefix+"-missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}

	for _, gen := range []int{1, 0} {
		record := model.Generation{
			VersionedRecord: CurrentVersion(),
			RunID:           older.ID,
			Generation:      gen,
			Ranked: []model.RankedGenome{
				{Rank: 0, Fitness: float64(10 + gen), Genome: "0101"},
				{Rank: 1, Fitness: float64(gen), Genome: "1100"},
			},
			Diagnostics: model.GenerationDiagnostics{BestFitness: float64(10 + gen), UniqueGenomes: 2},
		}
		if err := store.SaveGeneration(ctx, record); err != nil {
			t.Fatalf("save generation %d: %v", gen, err)
		}
	}

	gen, ok, err := store.GetGeneration(ctx, older.ID, 1)
	if err != nil || !ok {
		t.Fatalf("get generation: ok=%v err=%v", ok, err)
	}
	if len(gen.Ranked) != 2 || gen.Ranked[0].Genome != "0101" || gen.Diagnostics.BestFitness != 11 {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if _, ok, err := store.GetGeneration(ctx, older.ID, 7); err != nil || ok {
		t.Fatalf("expected missing generation, ok=%v err=%v", ok, err)
	}

	generations, err := store.ListGenerations(ctx, older.ID)
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	if len(generations) != 2 || generations[0].Generation != 0 || generations[1].Generation != 1 {
		t.Fatalf("unexpected generation listing: %+v", generations)
	}
	if others, err := store.ListGenerations(ctx, newer.ID); err != nil || len(others) != 0 {
		t.Fatalf("expected no generations for %s, got %d err=%v", newer.ID, len(others), err)
	}

	population := model.Population{
		VersionedRecord: CurrentVersion(),
		RunID:           older.ID,
		NextGeneration:  2,
		Genomes:         []string{"0101", "1100"},
	}
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("save population: %v", err)
	}
	population.NextGeneration = 3
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("overwrite population: %v", err)
	}
	loadedPopulation, ok, err := store.GetPopulation(ctx, older.ID)
	if err != nil || !ok {
		t.Fatalf("get population: ok=%v err=%v", ok, err)
	}
	if loadedPopulation.NextGeneration != 3 || len(loadedPopulation.Genomes) != 2 {
		t.Fatalf("unexpected population: %+v", loadedPopulation)
	}
}
