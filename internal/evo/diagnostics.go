package evo

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

// Diagnose summarizes the fitness distribution of a ranked generation.
func Diagnose(ranked []ScoredGenome) model.GenerationDiagnostics {
	if len(ranked) == 0 {
		return model.GenerationDiagnostics{}
	}

	values := make([]float64, len(ranked))
	unique := make(map[string]struct{}, len(ranked))
	for i, scored := range ranked {
		values[i] = scored.Fitness
		unique[scored.Genome.String()] = struct{}{}
	}

	diag := model.GenerationDiagnostics{
		BestFitness:   floats.Max(values),
		MeanFitness:   stat.Mean(values, nil),
		MinFitness:    floats.Min(values),
		UniqueGenomes: len(unique),
	}
	if len(values) > 1 {
		diag.StdDevFitness = stat.StdDev(values, nil)
	}
	return diag
}
