package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

func TestDecodeRunRejectsVersionMismatch(t *testing.T) {
	run := testRun("r1", time.Unix(0, 0).UTC())
	run.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestDecodeGenerationRoundTrip(t *testing.T) {
	input := model.Generation{
		VersionedRecord: CurrentVersion(),
		RunID:           "r1",
		Generation:      4,
		Ranked:          []model.RankedGenome{{Rank: 0, Fitness: -3.5, Genome: "0110"}},
		Diagnostics:     model.GenerationDiagnostics{BestFitness: -3.5, MeanFitness: -3.5, MinFitness: -3.5, UniqueGenomes: 1},
	}
	payload, err := EncodeGeneration(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeGeneration(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.Generation != 4 || output.Ranked[0].Genome != "0110" || output.Diagnostics.BestFitness != -3.5 {
		t.Fatalf("unexpected generation: %+v", output)
	}
}

func TestDecodePopulationRejectsUnversionedPayload(t *testing.T) {
	if _, err := DecodePopulation([]byte(`{"run_id":"r1","genomes":["01"]}`)); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if _, err := DecodePopulation([]byte(`{`)); err == nil {
		t.Fatal("expected json error")
	}
}
