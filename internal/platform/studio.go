// Package platform coordinates evolution sessions: it owns the driver of each
// live run, renders every generation to disk and persists it.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tudstk/songwriter-copilot/internal/artifacts"
	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/evo"
	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/metrics"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
	"github.com/tudstk/songwriter-copilot/internal/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotStarted      = errors.New("studio is not initialized")
)

type Config struct {
	Store     storage.Store
	Metrics   *metrics.Metrics
	OutputDir string
	// NewRatings builds the rating store of a session. Defaults to an
	// in-memory store.
	NewRatings func(runID string) ratings.Store
	Now        func() time.Time
}

// Artifact is one rendered genome of a generation.
type Artifact struct {
	Rank    int     `json:"rank"`
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Fitness float64 `json:"fitness"`
	Genome  string  `json:"genome"`
}

// GenerationResult is what a session produced for one generation.
type GenerationResult struct {
	RunID       string                      `json:"run_id"`
	Generation  int                         `json:"generation"`
	Artifacts   []Artifact                  `json:"artifacts"`
	Diagnostics model.GenerationDiagnostics `json:"diagnostics"`
	Elapsed     time.Duration               `json:"elapsed_ns"`
}

type Studio struct {
	store      storage.Store
	metrics    *metrics.Metrics
	outputDir  string
	newRatings func(string) ratings.Store
	now        func() time.Time

	mu       sync.RWMutex
	started  bool
	sessions map[string]*Session
}

func NewStudio(cfg Config) *Studio {
	if cfg.NewRatings == nil {
		cfg.NewRatings = func(string) ratings.Store { return ratings.NewMemoryStore() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "runs"
	}
	return &Studio{
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		outputDir:  cfg.OutputDir,
		newRatings: cfg.NewRatings,
		now:        cfg.Now,
		sessions:   make(map[string]*Session),
	}
}

// Init initializes the backing store. It is idempotent.
func (s *Studio) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.store == nil {
		s.store = storage.NewMemoryStore()
	}
	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	s.started = true
	return nil
}

func (s *Studio) Store() storage.Store {
	return s.store
}

func (s *Studio) OutputDir() string {
	return s.outputDir
}

// Start validates cfg, persists a new run and registers its session. No
// generation is evaluated yet.
func (s *Studio) Start(ctx context.Context, cfg config.Run) (*Session, error) {
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if cfg.Seed == 0 {
		cfg.Seed = now.UnixNano()
	}

	runID := uuid.New().String()
	sess := &Session{
		ID:        runID,
		Dir:       artifacts.FreeRunDir(s.outputDir, now, runID[:8]),
		Config:    cfg,
		Ratings:   s.newRatings(runID),
		CreatedAt: now,
	}
	driverCfg, err := driverConfig(cfg, sess.Ratings)
	if err != nil {
		return nil, err
	}
	sess.driver, err = evo.NewDriver(driverCfg)
	if err != nil {
		return nil, err
	}

	if err := artifacts.WriteRunConfig(sess.Dir, artifacts.RunConfig{
		RunID:        runID,
		CreatedAtUTC: now.Format(time.RFC3339),
		Config:       cfg,
	}); err != nil {
		return nil, fmt.Errorf("write run config: %w", err)
	}
	if err := s.saveRun(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.savePopulation(ctx, sess); err != nil {
		return nil, err
	}
	return s.register(sess), nil
}

// Resume rebuilds the session of a persisted run from its last population
// snapshot.
func (s *Studio) Resume(ctx context.Context, runID string) (*Session, error) {
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	if sess, ok := s.Session(runID); ok {
		return sess, nil
	}
	run, ok, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}
	var cfg config.Run
	if err := json.Unmarshal(run.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode run config %s: %w", runID, err)
	}
	snapshot, ok, err := s.store.GetPopulation(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no population snapshot", runID)
	}
	population := make([]model.Genome, 0, len(snapshot.Genomes))
	for i, encoded := range snapshot.Genomes {
		genome, err := model.ParseGenome(encoded)
		if err != nil {
			return nil, fmt.Errorf("population genome %d: %w", i, err)
		}
		population = append(population, genome)
	}

	sess := &Session{
		ID:          runID,
		Dir:         run.Directory,
		Config:      cfg,
		Ratings:     s.newRatings(runID),
		CreatedAt:   run.CreatedAtUTC,
		generations: run.Generations,
		bestFitness: run.BestFitness,
	}
	driverCfg, err := driverConfig(cfg, sess.Ratings)
	if err != nil {
		return nil, err
	}
	sess.driver, err = evo.Resume(driverCfg, population, snapshot.NextGeneration)
	if err != nil {
		return nil, err
	}
	if last, ok, err := s.store.GetGeneration(ctx, runID, snapshot.NextGeneration-1); err != nil {
		return nil, err
	} else if ok {
		sess.last = &last
	}
	return s.register(sess), nil
}

func (s *Studio) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns the live session IDs, oldest first.
func (s *Studio) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.sessions[ids[i]], s.sessions[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return ids[i] < ids[j]
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ids
}

// Close drops a live session and its pending ratings. The persisted run is
// kept.
func (s *Studio) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.metrics.SetSessions(count)
	s.metrics.Forget(id)
	return sess.Ratings.Reset(ctx)
}

// Advance evaluates the session's current population, writes the ranked
// genomes as MIDI and persists the generation.
func (s *Studio) Advance(ctx context.Context, sess *Session) (GenerationResult, error) {
	if sess == nil {
		return GenerationResult{}, fmt.Errorf("session is required")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	pending, err := sess.Ratings.Len(ctx)
	if err != nil {
		return GenerationResult{}, err
	}
	started := s.now()
	gen, err := sess.driver.Next(ctx)
	if err != nil {
		return GenerationResult{}, err
	}
	if left, err := sess.Ratings.Len(ctx); err == nil {
		s.metrics.RatingsConsumed(pending - left)
	}

	params := sess.Config.Params()
	paths, err := artifacts.WriteGeneration(sess.Dir, gen.ID, params, sess.Config.Tempo, gen.Ranked)
	if err != nil {
		return GenerationResult{}, s.skipGeneration(ctx, sess, gen.ID, err)
	}
	if _, err := artifacts.AppendHistory(sess.Dir, gen.Diagnostics); err != nil {
		return GenerationResult{}, s.skipGeneration(ctx, sess, gen.ID, fmt.Errorf("write fitness history: %w", err))
	}

	result := GenerationResult{
		RunID:       sess.ID,
		Generation:  gen.ID,
		Artifacts:   make([]Artifact, 0, len(gen.Fitness)),
		Diagnostics: gen.Diagnostics,
	}
	record := model.Generation{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           sess.ID,
		Generation:      gen.ID,
		Ranked:          make([]model.RankedGenome, 0, len(gen.Fitness)),
		Diagnostics:     gen.Diagnostics,
	}
	for rank, scored := range gen.Fitness {
		result.Artifacts = append(result.Artifacts, Artifact{
			Rank:    rank,
			Name:    artifacts.GenomeName(params, rank),
			Path:    paths[rank],
			Fitness: scored.Fitness,
			Genome:  scored.Genome.String(),
		})
		record.Ranked = append(record.Ranked, model.RankedGenome{
			Rank:    rank,
			Fitness: scored.Fitness,
			Genome:  scored.Genome.String(),
		})
	}
	if err := s.store.SaveGeneration(ctx, record); err != nil {
		return GenerationResult{}, s.skipGeneration(ctx, sess, gen.ID, fmt.Errorf("save generation %d: %w", gen.ID, err))
	}

	if sess.generations == 0 || gen.Diagnostics.BestFitness > sess.bestFitness {
		sess.bestFitness = gen.Diagnostics.BestFitness
	}
	sess.generations = gen.ID + 1
	sess.last = &record
	if err := s.saveRun(ctx, sess); err != nil {
		return GenerationResult{}, err
	}
	if err := s.savePopulation(ctx, sess); err != nil {
		return GenerationResult{}, err
	}
	if err := artifacts.AppendRunIndex(s.outputDir, artifacts.RunIndexEntry{
		RunID:        sess.ID,
		Directory:    sess.Dir,
		FitnessMode:  sess.Config.FitnessMode,
		Key:          sess.Config.Key,
		Scale:        sess.Config.Scale,
		Generations:  sess.generations,
		BestFitness:  sess.bestFitness,
		CreatedAtUTC: sess.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		return GenerationResult{}, fmt.Errorf("update run index: %w", err)
	}

	result.Elapsed = s.now().Sub(started)
	s.metrics.ObserveGeneration(sess.ID, gen.Diagnostics, result.Elapsed)
	return result, nil
}

// skipGeneration records that the driver has moved past generation id even
// though its artifacts could not be written, so the stored run and population
// snapshot stay in step with the driver. cause is returned, joined with any
// persistence error.
func (s *Studio) skipGeneration(ctx context.Context, sess *Session, id int, cause error) error {
	sess.generations = id + 1
	if err := s.saveRun(ctx, sess); err != nil {
		return errors.Join(cause, err)
	}
	if err := s.savePopulation(ctx, sess); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Run advances sess until limit generations have been produced (limit > 0)
// or next returns false. It returns the number of generations produced.
func (s *Studio) Run(ctx context.Context, sess *Session, limit int, next func(GenerationResult) (bool, error)) (int, error) {
	if limit <= 0 && next == nil {
		return 0, fmt.Errorf("run needs a generation limit or a continuation function")
	}
	produced := 0
	for limit <= 0 || produced < limit {
		result, err := s.Advance(ctx, sess)
		if err != nil {
			return produced, err
		}
		produced++
		if next == nil {
			continue
		}
		more, err := next(result)
		if err != nil {
			return produced, err
		}
		if !more {
			break
		}
	}
	return produced, nil
}

// SubmitRating records a listener rating for one artifact of the session.
func (s *Studio) SubmitRating(ctx context.Context, sess *Session, artifact string, rating int) error {
	if err := sess.Ratings.Submit(ctx, artifact, rating); err != nil {
		return err
	}
	s.metrics.RatingSubmitted()
	return nil
}

func (s *Studio) ensureStarted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// register adds sess unless a session with the same ID is already live, in
// which case the live one wins.
func (s *Studio) register(sess *Session) *Session {
	s.mu.Lock()
	if live, ok := s.sessions[sess.ID]; ok {
		s.mu.Unlock()
		return live
	}
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetSessions(count)
	return sess
}

func (s *Studio) saveRun(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess.Config)
	if err != nil {
		return err
	}
	params := sess.Config.Params()
	run := model.Run{
		VersionedRecord: storage.CurrentVersion(),
		ID:              sess.ID,
		Directory:       sess.Dir,
		CreatedAtUTC:    sess.CreatedAt,
		FitnessMode:     sess.Config.FitnessMode,
		Key:             params.Key,
		Scale:           params.Scale,
		Population:      sess.Config.PopulationSize,
		GenomeLength:    params.GenomeLength(),
		Generations:     sess.generations,
		BestFitness:     sess.bestFitness,
		Config:          raw,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Studio) savePopulation(ctx context.Context, sess *Session) error {
	population := sess.driver.Population()
	snapshot := model.Population{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           sess.ID,
		NextGeneration:  sess.driver.NextID(),
		Genomes:         make([]string, 0, len(population)),
	}
	for _, genome := range population {
		snapshot.Genomes = append(snapshot.Genomes, genome.String())
	}
	if err := s.store.SavePopulation(ctx, snapshot); err != nil {
		return fmt.Errorf("save population %s: %w", sess.ID, err)
	}
	return nil
}

func driverConfig(cfg config.Run, store ratings.Store) (evo.DriverConfig, error) {
	evaluator, err := fitness.FromMode(cfg.FitnessMode)
	if err != nil {
		return evo.DriverConfig{}, err
	}
	selector, err := evo.SelectorByName(cfg.Selection)
	if err != nil {
		return evo.DriverConfig{}, err
	}
	return evo.DriverConfig{
		Params:              cfg.Params(),
		PopulationSize:      cfg.PopulationSize,
		MutationCount:       cfg.MutationCount,
		MutationProbability: cfg.MutationProbability,
		Evaluator:           evaluator,
		Ratings:             store,
		Selector:            selector,
		Workers:             cfg.Workers,
		Seed:                cfg.Seed,
	}, nil
}
