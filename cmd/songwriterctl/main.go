package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/scale"
	"github.com/tudstk/songwriter-copilot/internal/storage"
	api "github.com/tudstk/songwriter-copilot/pkg/songwriter"
)

const (
	defaultOutputDir = "runs"
	defaultDBPath    = "songwriter.db"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "generations":
		return runGenerations(ctx, args[1:])
	case "decode":
		return runDecode(ctx, args[1:])
	case "scales":
		return runScales(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// storeFlags registers the persistence flags shared by most commands.
type storeFlags struct {
	kind      *string
	dbPath    *string
	outputDir *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:      fs.String("store", storage.DefaultStoreKind, "store backend: memory|sqlite|postgres"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path or postgres dsn"),
		outputDir: fs.String("out", defaultOutputDir, "directory for run artifacts"),
	}
}

func (f storeFlags) client() (*api.Client, error) {
	return api.New(api.Options{StoreKind: *f.kind, DBPath: *f.dbPath, OutputDir: *f.outputDir})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized store=%s\n", *sf.kind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	configPath := fs.String("config", "", "optional run config file (.json or .toml)")
	bars := fs.Int("bars", 0, "number of bars (default 8)")
	notes := fs.Int("notes", 0, "notes per bar (default 4)")
	steps := fs.Int("steps", 0, "number of stacked voices (default 1)")
	noRests := fs.Bool("no-rests", false, "disable rests")
	key := fs.String("key", "", "key (default C)")
	scaleName := fs.String("scale", "", "scale name (default major)")
	root := fs.Int("root", 0, "scale root octave (default 4)")
	population := fs.Int("pop", 0, "population size (default 10)")
	mutations := fs.Int("mutations", 0, "mutation attempts per child (default 2)")
	mutationProb := fs.Float64("mutation-prob", 0, "probability of each mutation attempt (default 0.5)")
	tempo := fs.Float64("tempo", 0, "tempo in bpm (default 120)")
	fitnessMode := fs.String("fitness", "", "fitness mode: automated|rating (a|r)")
	selection := fs.String("selection", "", "parent selection: weighted|tournament")
	gens := fs.Int("gens", 0, "number of generations; 0 asks after every generation")
	seed := fs.Int64("seed", 0, "random seed; 0 picks one from the clock")
	workers := fs.Int("workers", 0, "parallel evaluators for automated fitness")
	previews := fs.Bool("preview", false, "write a WAV preview next to every MIDI file")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := newLogger(*logLevel, false)
	if err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := api.RunRequest{
		ConfigPath:          *configPath,
		Bars:                *bars,
		NotesPerBar:         *notes,
		Steps:               *steps,
		DisableRests:        *noRests,
		Key:                 *key,
		Scale:               *scaleName,
		ScaleRoot:           *root,
		PopulationSize:      *population,
		MutationCount:       *mutations,
		MutationProbability: *mutationProb,
		Tempo:               *tempo,
		FitnessMode:         *fitnessMode,
		Selection:           *selection,
		Generations:         *gens,
		Seed:                *seed,
		Workers:             *workers,
	}
	summary, err := client.Run(ctx, req, newHooks(client, *gens, *previews, logger))
	if err != nil {
		return err
	}
	printRunSummary(summary)
	return nil
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id to continue")
	gens := fs.Int("gens", 0, "number of further generations; 0 asks after every generation")
	previews := fs.Bool("preview", false, "write a WAV preview next to every MIDI file")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("resume requires --run-id")
	}
	logger, err := newLogger(*logLevel, false)
	if err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Resume(ctx, *runID, *gens, newHooks(client, *gens, *previews, logger))
	if err != nil {
		return err
	}
	printRunSummary(summary)
	return nil
}

func printRunSummary(summary api.RunSummary) {
	fmt.Fprintf(stdout, "run completed run_id=%s generations=%d\n", summary.RunID, summary.Generations)
	for i, best := range summary.BestByGeneration {
		fmt.Fprintf(stdout, "generation=%d best_fitness=%.3f\n", i, best)
	}
	fmt.Fprintf(stdout, "final_best_fitness=%.3f\n", summary.FinalBestFitness)
	fmt.Fprintf(stdout, "artifacts_dir=%s\n", filepath.Clean(summary.Directory))
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s mode=%s key=%s scale=%s generations=%d best=%.3f dir=%s\n",
			r.RunID, r.CreatedAtUTC, r.FitnessMode, r.Key, r.Scale, r.Generations, r.BestFitness, r.Directory)
	}
	return nil
}

func runGenerations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generations", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "show only the last N generations")
	jsonOut := fs.Bool("json", false, "emit generations as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Generations(ctx, api.GenerationsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	for _, g := range items {
		fmt.Fprintf(stdout, "generation=%d best=%.3f mean=%.3f min=%.3f std=%.3f unique=%d best_genome=%s\n",
			g.Generation, g.BestFitness, g.MeanFitness, g.MinFitness, g.StdDevFitness, g.UniqueGenomes, g.BestGenome)
	}
	return nil
}

func runDecode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	genome := fs.String("genome", "", "genome bit string, e.g. 1000100001001100")
	bars := fs.Int("bars", 0, "number of bars (default 8)")
	notes := fs.Int("notes", 0, "notes per bar (default 4)")
	steps := fs.Int("steps", 0, "number of stacked voices (default 1)")
	noRests := fs.Bool("no-rests", false, "disable rests")
	key := fs.String("key", "", "key (default C)")
	scaleName := fs.String("scale", "", "scale name (default major)")
	root := fs.Int("root", 0, "scale root octave (default 4)")
	tempo := fs.Float64("tempo", 0, "tempo in bpm (default 120)")
	midiPath := fs.String("midi", "", "write the melody to this MIDI file")
	wavPath := fs.String("wav", "", "write a WAV preview to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *genome == "" {
		return errors.New("decode requires --genome")
	}

	client, err := api.New(api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Decode(ctx, api.DecodeRequest{
		Genome:       *genome,
		Bars:         *bars,
		NotesPerBar:  *notes,
		Steps:        *steps,
		DisableRests: *noRests,
		Key:          *key,
		Scale:        *scaleName,
		ScaleRoot:    *root,
		Tempo:        *tempo,
		MIDIPath:     *midiPath,
		WAVPath:      *wavPath,
	})
	if err != nil {
		return err
	}
	for i, voice := range result.Pitches {
		fmt.Fprintf(stdout, "voice=%d pitches=%v\n", i, voice)
	}
	fmt.Fprintf(stdout, "velocities=%v\n", result.Velocities)
	fmt.Fprintf(stdout, "beats=%v\n", result.Beats)
	b := result.Breakdown
	fmt.Fprintf(stdout, "score=%.0f range=%d contour=%d repetition=%d out_of_scale=%d rhythm=%d diversity=%d\n",
		result.Score, b.PitchRange, b.ContourChanges, b.RepetitionPenalty, b.ScaleConformance, b.RhythmicVariety, b.DiversityScore)
	return nil
}

func runScales(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("scales", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit the catalogue as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(map[string][]string{"keys": scale.Keys(), "scales": scale.Names()})
	}
	fmt.Fprintf(stdout, "keys=%s\n", strings.Join(scale.Keys(), ","))
	fmt.Fprintf(stdout, "scales=%s\n", strings.Join(scale.Names(), ","))
	fmt.Fprintf(stdout, "fitness=%s,%s\n", fitness.ModeAutomated, fitness.ModeRating)
	return nil
}

func newLogger(level string, jsonFormat bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: unsupported log level %q", config.ErrInvalid, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(stderr, opts)), nil
}

func writeJSON(value any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: songwriterctl <init|run|resume|serve|runs|generations|decode|scales> [flags]", msg)
}
