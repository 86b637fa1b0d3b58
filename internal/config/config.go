// Package config loads and validates run and server configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tudstk/songwriter-copilot/internal/evo"
	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/scale"
)

var ErrInvalid = errors.New("invalid run configuration")

const (
	DefaultBars                = 8
	DefaultNotesPerBar         = 4
	DefaultSteps               = 1
	DefaultKey                 = "C"
	DefaultScale               = "major"
	DefaultScaleRoot           = 4
	DefaultPopulationSize      = 10
	DefaultMutationCount       = 2
	DefaultMutationProbability = 0.5
	DefaultTempo               = 120
)

// Run is everything needed to start an evolution run. Generations of 0 means
// the caller decides after every generation whether to continue.
type Run struct {
	Bars                int     `json:"bars" toml:"bars"`
	NotesPerBar         int     `json:"notes_per_bar" toml:"notes_per_bar"`
	Steps               int     `json:"steps" toml:"steps"`
	AllowRests          bool    `json:"allow_rests" toml:"allow_rests"`
	Key                 string  `json:"key" toml:"key"`
	Scale               string  `json:"scale" toml:"scale"`
	ScaleRoot           int     `json:"scale_root" toml:"scale_root"`
	PopulationSize      int     `json:"population_size" toml:"population_size"`
	MutationCount       int     `json:"mutation_count" toml:"mutation_count"`
	MutationProbability float64 `json:"mutation_probability" toml:"mutation_probability"`
	Tempo               float64 `json:"tempo" toml:"tempo"`
	FitnessMode         string  `json:"fitness_mode" toml:"fitness_mode"`
	Selection           string  `json:"selection,omitempty" toml:"selection"`
	Generations         int     `json:"generations" toml:"generations"`
	Seed                int64   `json:"seed" toml:"seed"`
	Workers             int     `json:"workers" toml:"workers"`
}

func Default() Run {
	return Run{
		Bars:                DefaultBars,
		NotesPerBar:         DefaultNotesPerBar,
		Steps:               DefaultSteps,
		AllowRests:          true,
		Key:                 DefaultKey,
		Scale:               DefaultScale,
		ScaleRoot:           DefaultScaleRoot,
		PopulationSize:      DefaultPopulationSize,
		MutationCount:       DefaultMutationCount,
		MutationProbability: DefaultMutationProbability,
		Tempo:               DefaultTempo,
		FitnessMode:         fitness.ModeAutomated,
		Selection:           "weighted",
		Workers:             1,
	}
}

// Params returns the melody parameters of the run.
func (r Run) Params() melody.Params {
	return melody.Params{
		Bars:        r.Bars,
		NotesPerBar: r.NotesPerBar,
		Steps:       r.Steps,
		AllowRests:  r.AllowRests,
		Key:         r.Key,
		Scale:       r.Scale,
		ScaleRoot:   r.ScaleRoot,
	}
}

// Validate checks the run and normalizes the fitness mode alias in place.
// Every failure wraps ErrInvalid.
func (r *Run) Validate() error {
	var problems []string
	if r.Bars <= 0 {
		problems = append(problems, "bars must be > 0")
	}
	if r.NotesPerBar <= 0 {
		problems = append(problems, "notes_per_bar must be > 0")
	}
	if r.Steps <= 0 {
		problems = append(problems, "steps must be > 0")
	}
	if !scale.ValidKey(r.Key) {
		problems = append(problems, fmt.Sprintf("unknown key %q", r.Key))
	}
	if !scale.ValidScale(r.Scale) {
		problems = append(problems, fmt.Sprintf("unknown scale %q", r.Scale))
	}
	if scale.ValidKey(r.Key) && scale.ValidScale(r.Scale) {
		if _, err := scale.Table(r.Key, r.Scale, r.ScaleRoot); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if r.PopulationSize < evo.EliteCount {
		problems = append(problems, fmt.Sprintf("population_size must be >= %d", evo.EliteCount))
	}
	if r.MutationCount < 0 {
		problems = append(problems, "mutation_count must be >= 0")
	}
	if r.MutationProbability < 0 || r.MutationProbability > 1 {
		problems = append(problems, "mutation_probability must be in [0, 1]")
	}
	if r.Tempo <= 0 {
		problems = append(problems, "tempo must be > 0")
	}
	if r.Generations < 0 {
		problems = append(problems, "generations must be >= 0")
	}
	if r.Workers < 0 {
		problems = append(problems, "workers must be >= 0")
	}
	if mode, err := fitness.NormalizeMode(r.FitnessMode); err != nil {
		problems = append(problems, err.Error())
	} else {
		r.FitnessMode = mode
	}
	if _, err := evo.SelectorByName(r.Selection); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Load reads a run configuration from a .json or .toml file. Fields missing
// from the file keep their Default values; unknown fields are rejected.
func Load(path string) (Run, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("read run config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Run{}, fmt.Errorf("decode run config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Run{}, fmt.Errorf("decode run config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			sort.Strings(keys)
			return Run{}, fmt.Errorf("decode run config %s: unknown fields %s", path, strings.Join(keys, ", "))
		}
	default:
		return Run{}, fmt.Errorf("unsupported run config format %q (want .json or .toml)", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}
