package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tudstk/songwriter-copilot/internal/fitness"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	params := cfg.Params()
	if params.GenomeLength() != 8*4*4 {
		t.Fatalf("expected genome length 128, got %d", params.GenomeLength())
	}
	if !params.AllowRests || params.Key != "C" || params.ScaleRoot != 4 {
		t.Fatalf("unexpected default params: %+v", params)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Bars = 0
	cfg.Key = "H"
	cfg.PopulationSize = 1
	cfg.MutationProbability = 1.5
	cfg.FitnessMode = "vote"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	for _, want := range []string{"bars", "unknown key", "population_size", "mutation_probability", "fitness mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateNormalizesFitnessMode(t *testing.T) {
	cfg := Default()
	cfg.FitnessMode = "r"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.FitnessMode != fitness.ModeRating {
		t.Fatalf("expected rating mode, got %q", cfg.FitnessMode)
	}
}

func TestValidateRejectsPitchOverflow(t *testing.T) {
	cfg := Default()
	cfg.Key = "B"
	cfg.ScaleRoot = 9
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSONKeepsDefaults(t *testing.T) {
	path := writeFile(t, "run.json", `{"bars": 2, "scale": "dorian", "fitness_mode": "rating", "population_size": 3}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bars != 2 || cfg.Scale != "dorian" || cfg.FitnessMode != fitness.ModeRating || cfg.PopulationSize != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.NotesPerBar != DefaultNotesPerBar || cfg.Tempo != DefaultTempo || cfg.MutationCount != DefaultMutationCount {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "run.toml", `
bars = 4
notes_per_bar = 8
steps = 2
allow_rests = false
key = "F#"
scale = "minorBlues"
scale_root = 3
tempo = 96.5
generations = 5
seed = 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bars != 4 || cfg.NotesPerBar != 8 || cfg.Steps != 2 || cfg.AllowRests {
		t.Fatalf("unexpected shape: %+v", cfg)
	}
	if cfg.Key != "F#" || cfg.Scale != "minorBlues" || cfg.ScaleRoot != 3 || cfg.Tempo != 96.5 {
		t.Fatalf("unexpected musical settings: %+v", cfg)
	}
	if cfg.Generations != 5 || cfg.Seed != 7 || cfg.PopulationSize != DefaultPopulationSize {
		t.Fatalf("unexpected run settings: %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	for _, tc := range []struct{ name, content string }{
		{"run.json", `{"bars": 2, "genre": "jazz"}`},
		{"run.toml", "bars = 2\ngenre = \"jazz\"\n"},
	} {
		if _, err := Load(writeFile(t, tc.name, tc.content)); err == nil {
			t.Fatalf("%s: expected unknown field error", tc.name)
		}
	}
}

func TestLoadRejectsUnsupportedFormat(t *testing.T) {
	if _, err := Load(writeFile(t, "run.yaml", "bars: 2")); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeFile(t, "run.json", `{"scale": "bebop"}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}
