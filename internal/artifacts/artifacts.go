// Package artifacts writes the on-disk layout of an evolution run:
//
//	<base>/<unix-ts>/run.json
//	<base>/<unix-ts>/fitness_history.json
//	<base>/<unix-ts>/<generation>/{scale}-{key}-{rank}.mid
//	<base>/<unix-ts>/<generation>/best.mid
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/midifile"
	"github.com/tudstk/songwriter-copilot/internal/model"
)

const (
	RunFile     = "run.json"
	HistoryFile = "fitness_history.json"
	BestFile    = "best.mid"

	runIndexFile = "run_index.json"
)

type RunConfig struct {
	RunID        string     `json:"run_id"`
	CreatedAtUTC string     `json:"created_at_utc"`
	Config       config.Run `json:"config"`
}

type History struct {
	BestByGeneration []float64 `json:"best_by_generation"`
	MeanByGeneration []float64 `json:"mean_by_generation"`
	FinalBestFitness float64   `json:"final_best_fitness"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Directory    string  `json:"directory"`
	FitnessMode  string  `json:"fitness_mode"`
	Key          string  `json:"key"`
	Scale        string  `json:"scale"`
	Generations  int     `json:"generations"`
	BestFitness  float64 `json:"best_fitness"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// RunDir names the directory of a run started at now.
func RunDir(baseDir string, now time.Time) string {
	return filepath.Join(baseDir, strconv.FormatInt(now.Unix(), 10))
}

// FreeRunDir is RunDir unless that directory already exists, in which case
// suffix is appended to keep runs started in the same second apart.
func FreeRunDir(baseDir string, now time.Time, suffix string) string {
	dir := RunDir(baseDir, now)
	if _, err := os.Stat(dir); err == nil && suffix != "" {
		return dir + "-" + suffix
	}
	return dir
}

// GenomeName is the artifact identifier of a ranked genome. Ratings are
// submitted against it.
func GenomeName(p melody.Params, rank int) string {
	return fmt.Sprintf("%s-%s-%d", p.Scale, p.Key, rank)
}

func GenerationDir(runDir string, generation int) string {
	return filepath.Join(runDir, strconv.Itoa(generation))
}

func GenomePath(runDir string, generation int, p melody.Params, rank int) string {
	return filepath.Join(GenerationDir(runDir, generation), GenomeName(p, rank)+".mid")
}

// WriteGeneration decodes every ranked genome and writes it as MIDI in rank
// order, plus best.mid for rank 0. It returns the per-rank paths.
func WriteGeneration(runDir string, generation int, p melody.Params, tempo float64, ranked []model.Genome) ([]string, error) {
	if strings.TrimSpace(runDir) == "" {
		return nil, fmt.Errorf("run directory is required")
	}
	if generation < 0 {
		return nil, fmt.Errorf("generation must be >= 0")
	}
	paths := make([]string, 0, len(ranked))
	for rank, genome := range ranked {
		m, err := melody.Decode(genome, p)
		if err != nil {
			return paths, fmt.Errorf("decode genome rank %d: %w", rank, err)
		}
		path := GenomePath(runDir, generation, p, rank)
		if err := midifile.WriteFile(path, m, tempo); err != nil {
			return paths, fmt.Errorf("write genome rank %d: %w", rank, err)
		}
		if rank == 0 {
			if err := midifile.WriteFile(filepath.Join(GenerationDir(runDir, generation), BestFile), m, tempo); err != nil {
				return paths, fmt.Errorf("write best genome: %w", err)
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func WriteRunConfig(runDir string, cfg RunConfig) error {
	if strings.TrimSpace(cfg.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, RunFile), cfg)
}

func ReadRunConfig(runDir string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(runDir, RunFile), &cfg)
	return cfg, ok, err
}

// AppendHistory records one generation's diagnostics in fitness_history.json.
func AppendHistory(runDir string, diag model.GenerationDiagnostics) (History, error) {
	history, _, err := ReadHistory(runDir)
	if err != nil {
		return History{}, err
	}
	history.BestByGeneration = append(history.BestByGeneration, diag.BestFitness)
	history.MeanByGeneration = append(history.MeanByGeneration, diag.MeanFitness)
	if len(history.BestByGeneration) == 1 || diag.BestFitness > history.FinalBestFitness {
		history.FinalBestFitness = diag.BestFitness
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return History{}, err
	}
	if err := writeJSON(filepath.Join(runDir, HistoryFile), history); err != nil {
		return History{}, err
	}
	return history, nil
}

func ReadHistory(runDir string) (History, bool, error) {
	var history History
	ok, err := readJSON(filepath.Join(runDir, HistoryFile), &history)
	return history, ok, err
}

// AppendRunIndex adds or replaces entry in the run index of baseDir.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	if _, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		return []RunIndexEntry{}, nil
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
