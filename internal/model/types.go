package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is a fixed-length bit sequence. Every element is 0 or 1.
type Genome []uint8

// Clone returns an independent copy of g.
func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

func (g Genome) Equal(other Genome) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the genome as a compact bit string such as "0110".
func (g Genome) String() string {
	var b strings.Builder
	b.Grow(len(g))
	for _, bit := range g {
		if bit == 0 {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

// ParseGenome parses a bit string produced by Genome.String. Whitespace is
// ignored so long genomes can be grouped for readability.
func ParseGenome(s string) (Genome, error) {
	out := make(Genome, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			out = append(out, 0)
		case '1':
			out = append(out, 1)
		case ' ', '\t', '\n', '_':
		default:
			return nil, fmt.Errorf("invalid genome character %q at offset %d", r, i)
		}
	}
	return out, nil
}

// RankedGenome is a genome with its fitness and position in a ranked generation.
type RankedGenome struct {
	Rank    int     `json:"rank"`
	Fitness float64 `json:"fitness"`
	Genome  string  `json:"genome"`
}

type GenerationDiagnostics struct {
	BestFitness   float64 `json:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness"`
	MinFitness    float64 `json:"min_fitness"`
	StdDevFitness float64 `json:"stddev_fitness"`
	UniqueGenomes int     `json:"unique_genomes"`
}

// Run is the persisted description of one evolution run.
type Run struct {
	VersionedRecord
	ID           string          `json:"id"`
	Directory    string          `json:"directory,omitempty"`
	CreatedAtUTC time.Time       `json:"created_at_utc"`
	FitnessMode  string          `json:"fitness_mode"`
	Key          string          `json:"key"`
	Scale        string          `json:"scale"`
	Population   int             `json:"population"`
	GenomeLength int             `json:"genome_length"`
	Generations  int             `json:"generations"`
	BestFitness  float64         `json:"best_fitness"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// Generation is the persisted form of one evaluated generation.
type Generation struct {
	VersionedRecord
	RunID       string                `json:"run_id"`
	Generation  int                   `json:"generation"`
	Ranked      []RankedGenome        `json:"ranked"`
	Diagnostics GenerationDiagnostics `json:"diagnostics"`
}

// Population is a snapshot of the population a run will evaluate next,
// used to resume a run.
type Population struct {
	VersionedRecord
	RunID          string   `json:"run_id"`
	NextGeneration int      `json:"next_generation"`
	Genomes        []string `json:"genomes"`
}
