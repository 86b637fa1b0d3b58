package songwriter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tudstk/songwriter-copilot/internal/artifacts"
	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/midifile"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/platform"
	"github.com/tudstk/songwriter-copilot/internal/preview"
	"github.com/tudstk/songwriter-copilot/internal/storage"
)

const (
	defaultOutputDir = "runs"
	defaultDBPath    = "songwriter.db"
)

type Options struct {
	StoreKind string
	// DBPath is the sqlite file or the postgres DSN.
	DBPath    string
	OutputDir string
}

type Client struct {
	store     storage.Store
	studio    *platform.Studio
	outputDir string
}

// RunRequest describes a run. Zero fields take the values of ConfigPath, or
// the defaults when no file is given.
type RunRequest struct {
	ConfigPath          string
	Bars                int
	NotesPerBar         int
	Steps               int
	DisableRests        bool
	Key                 string
	Scale               string
	ScaleRoot           int
	PopulationSize      int
	MutationCount       int
	MutationProbability float64
	Tempo               float64
	FitnessMode         string
	Selection           string
	Generations         int
	Seed                int64
	Workers             int
}

// RunHooks let the caller observe and steer a run. Continue is consulted
// after every generation when the run has no generation limit. Rate is
// called in rating mode before every further generation and returns ratings
// keyed by artifact name.
type RunHooks struct {
	OnGeneration func(GenerationSummary)
	Continue     func(GenerationSummary) (bool, error)
	Rate         func(ctx context.Context, generation GenerationSummary) (map[string]int, error)
}

type Artifact struct {
	Rank    int
	Name    string
	Path    string
	Fitness float64
	Genome  string
}

type GenerationSummary struct {
	RunID       string
	Directory   string
	Generation  int
	Artifacts   []Artifact
	BestFitness float64
	MeanFitness float64
	Elapsed     time.Duration
}

type RunSummary struct {
	RunID            string
	Directory        string
	Generations      int
	BestByGeneration []float64
	FinalBestFitness float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	Directory    string
	CreatedAtUTC string
	FitnessMode  string
	Key          string
	Scale        string
	Generations  int
	BestFitness  float64
}

type GenerationsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type GenerationItem struct {
	Generation    int
	BestFitness   float64
	MeanFitness   float64
	MinFitness    float64
	StdDevFitness float64
	UniqueGenomes int
	BestGenome    string
}

// DecodeRequest renders one genome. MIDIPath and WAVPath are optional
// outputs.
type DecodeRequest struct {
	Genome       string
	Bars         int
	NotesPerBar  int
	Steps        int
	DisableRests bool
	Key          string
	Scale        string
	ScaleRoot    int
	Tempo        float64
	MIDIPath     string
	WAVPath      string
}

type DecodeResult struct {
	Pitches    [][]int
	Velocities []int
	Beats      []float64
	Score      float64
	Breakdown  fitness.Breakdown
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:     store,
		studio:    platform.NewStudio(platform.Config{Store: store, OutputDir: outputDir}),
		outputDir: outputDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.studio.Init(ctx)
}

// Run starts a new run and evolves it until req.Generations generations have
// been produced or, with no limit, until hooks.Continue declines.
func (c *Client) Run(ctx context.Context, req RunRequest, hooks RunHooks) (RunSummary, error) {
	cfg, err := req.config()
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.studio.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	sess, err := c.studio.Start(ctx, cfg)
	if err != nil {
		return RunSummary{}, err
	}
	return c.drive(ctx, sess, cfg.Generations, hooks)
}

// Resume continues a persisted run for generations more generations.
func (c *Client) Resume(ctx context.Context, runID string, generations int, hooks RunHooks) (RunSummary, error) {
	if runID == "" {
		return RunSummary{}, errors.New("run id is required")
	}
	if err := c.studio.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	sess, err := c.studio.Resume(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	return c.drive(ctx, sess, generations, hooks)
}

func (c *Client) drive(ctx context.Context, sess *platform.Session, limit int, hooks RunHooks) (RunSummary, error) {
	if limit <= 0 && hooks.Continue == nil {
		return RunSummary{}, errors.New("run needs a generation limit or a continue hook")
	}
	rating := sess.Config.FitnessMode == fitness.ModeRating

	produced := 0
	next := func(result platform.GenerationResult) (bool, error) {
		produced++
		summary := toGenerationSummary(sess.Dir, result)
		if hooks.OnGeneration != nil {
			hooks.OnGeneration(summary)
		}
		more := limit <= 0 || produced < limit
		if limit <= 0 {
			var err error
			if more, err = hooks.Continue(summary); err != nil {
				return false, err
			}
		}
		if more && rating && hooks.Rate != nil {
			scores, err := hooks.Rate(ctx, summary)
			if err != nil {
				return false, err
			}
			for _, artifact := range summary.Artifacts {
				score, ok := scores[artifact.Name]
				if !ok {
					continue
				}
				if err := c.studio.SubmitRating(ctx, sess, artifact.Name, score); err != nil {
					return false, err
				}
			}
		}
		return more, nil
	}
	if _, err := c.studio.Run(ctx, sess, 0, next); err != nil {
		return RunSummary{}, err
	}

	history, _, err := artifacts.ReadHistory(sess.Dir)
	if err != nil {
		return RunSummary{}, err
	}
	summary, err := sess.Summary(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{
		RunID:            sess.ID,
		Directory:        sess.Dir,
		Generations:      summary.Generations,
		BestByGeneration: history.BestByGeneration,
		FinalBestFitness: summary.BestFitness,
	}, nil
}

// Runs lists runs recorded in the output directory, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := artifacts.ListRunIndex(c.outputDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			Directory:    e.Directory,
			CreatedAtUTC: e.CreatedAtUTC,
			FitnessMode:  e.FitnessMode,
			Key:          e.Key,
			Scale:        e.Scale,
			Generations:  e.Generations,
			BestFitness:  e.BestFitness,
		})
	}
	return out, nil
}

// Generations lists the persisted generations of a run. Limit keeps the last
// Limit generations.
func (c *Client) Generations(ctx context.Context, req GenerationsRequest) ([]GenerationItem, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return nil, errors.New("generations requires run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.studio.Init(ctx); err != nil {
		return nil, err
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.outputDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}

	generations, err := c.store.ListGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(generations) > req.Limit {
		generations = generations[len(generations)-req.Limit:]
	}
	out := make([]GenerationItem, 0, len(generations))
	for _, g := range generations {
		item := GenerationItem{
			Generation:    g.Generation,
			BestFitness:   g.Diagnostics.BestFitness,
			MeanFitness:   g.Diagnostics.MeanFitness,
			MinFitness:    g.Diagnostics.MinFitness,
			StdDevFitness: g.Diagnostics.StdDevFitness,
			UniqueGenomes: g.Diagnostics.UniqueGenomes,
		}
		if len(g.Ranked) > 0 {
			item.BestGenome = g.Ranked[0].Genome
		}
		out = append(out, item)
	}
	return out, nil
}

// Decode decodes a bit-string genome, scores it with the heuristic and
// optionally writes it as MIDI and WAV.
func (c *Client) Decode(_ context.Context, req DecodeRequest) (DecodeResult, error) {
	params := melody.Params{
		Bars:        orDefault(req.Bars, config.DefaultBars),
		NotesPerBar: orDefault(req.NotesPerBar, config.DefaultNotesPerBar),
		Steps:       orDefault(req.Steps, config.DefaultSteps),
		AllowRests:  !req.DisableRests,
		Key:         orDefault(req.Key, config.DefaultKey),
		Scale:       orDefault(req.Scale, config.DefaultScale),
		ScaleRoot:   orDefault(req.ScaleRoot, config.DefaultScaleRoot),
	}
	tempo := orDefault(req.Tempo, config.DefaultTempo)

	genome, err := model.ParseGenome(req.Genome)
	if err != nil {
		return DecodeResult{}, err
	}
	m, err := melody.Decode(genome, params)
	if err != nil {
		return DecodeResult{}, err
	}
	if req.MIDIPath != "" {
		if err := midifile.WriteFile(req.MIDIPath, m, tempo); err != nil {
			return DecodeResult{}, err
		}
	}
	if req.WAVPath != "" {
		if err := preview.WriteFile(req.WAVPath, m, tempo, preview.DefaultOptions()); err != nil {
			return DecodeResult{}, err
		}
	}
	breakdown := fitness.Analyze(m)
	return DecodeResult{
		Pitches:    m.Pitches,
		Velocities: m.Velocities,
		Beats:      m.Beats,
		Score:      breakdown.Score,
		Breakdown:  breakdown,
	}, nil
}

// WritePreviews renders every ranked genome of a generation to a WAV file
// next to its MIDI file and returns the written paths.
func (c *Client) WritePreviews(ctx context.Context, runID string, generation int) ([]string, error) {
	if err := c.studio.Init(ctx); err != nil {
		return nil, err
	}
	sess, ok := c.studio.Session(runID)
	if !ok {
		var err error
		if sess, err = c.studio.Resume(ctx, runID); err != nil {
			return nil, err
		}
	}
	record, ok, err := c.store.GetGeneration(ctx, runID, generation)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no generation %d", runID, generation)
	}

	params := sess.Config.Params()
	paths := make([]string, 0, len(record.Ranked))
	for _, ranked := range record.Ranked {
		genome, err := model.ParseGenome(ranked.Genome)
		if err != nil {
			return paths, err
		}
		m, err := melody.Decode(genome, params)
		if err != nil {
			return paths, err
		}
		midiPath := artifacts.GenomePath(sess.Dir, generation, params, ranked.Rank)
		path := strings.TrimSuffix(midiPath, filepath.Ext(midiPath)) + ".wav"
		if err := preview.WriteFile(path, m, sess.Config.Tempo, preview.DefaultOptions()); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r RunRequest) config() (config.Run, error) {
	cfg := config.Default()
	if r.ConfigPath != "" {
		loaded, err := config.Load(r.ConfigPath)
		if err != nil {
			return config.Run{}, err
		}
		cfg = loaded
	}
	cfg.Bars = orDefault(r.Bars, cfg.Bars)
	cfg.NotesPerBar = orDefault(r.NotesPerBar, cfg.NotesPerBar)
	cfg.Steps = orDefault(r.Steps, cfg.Steps)
	if r.DisableRests {
		cfg.AllowRests = false
	}
	cfg.Key = orDefault(r.Key, cfg.Key)
	cfg.Scale = orDefault(r.Scale, cfg.Scale)
	cfg.ScaleRoot = orDefault(r.ScaleRoot, cfg.ScaleRoot)
	cfg.PopulationSize = orDefault(r.PopulationSize, cfg.PopulationSize)
	cfg.MutationCount = orDefault(r.MutationCount, cfg.MutationCount)
	cfg.MutationProbability = orDefault(r.MutationProbability, cfg.MutationProbability)
	cfg.Tempo = orDefault(r.Tempo, cfg.Tempo)
	cfg.FitnessMode = orDefault(r.FitnessMode, cfg.FitnessMode)
	cfg.Selection = orDefault(r.Selection, cfg.Selection)
	cfg.Generations = orDefault(r.Generations, cfg.Generations)
	cfg.Seed = orDefault(r.Seed, cfg.Seed)
	cfg.Workers = orDefault(r.Workers, cfg.Workers)
	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}

func orDefault[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

func toGenerationSummary(dir string, result platform.GenerationResult) GenerationSummary {
	out := GenerationSummary{
		RunID:       result.RunID,
		Directory:   dir,
		Generation:  result.Generation,
		Artifacts:   make([]Artifact, 0, len(result.Artifacts)),
		BestFitness: result.Diagnostics.BestFitness,
		MeanFitness: result.Diagnostics.MeanFitness,
		Elapsed:     result.Elapsed,
	}
	for _, a := range result.Artifacts {
		out.Artifacts = append(out.Artifacts, Artifact{
			Rank:    a.Rank,
			Name:    a.Name,
			Path:    a.Path,
			Fitness: a.Fitness,
			Genome:  a.Genome,
		})
	}
	return out
}
