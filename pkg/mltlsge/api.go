// Package mltlsge is the programmatic entry point: it runs searches,
// persists their results and reads them back.
package mltlsge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"mltlsge/internal/config"
	"mltlsge/internal/datainfo"
	"mltlsge/internal/dataset"
	"mltlsge/internal/grammar"
	"mltlsge/internal/mltl"
	"mltlsge/internal/model"
	"mltlsge/internal/platform"
	"mltlsge/internal/stats"
	"mltlsge/internal/storage"
	"mltlsge/internal/telemetry"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "mltlsge.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// MetricsAddr, when set, serves Prometheus metrics for the client's
	// lifetime.
	MetricsAddr string
	// CacheSize bounds the parsed-formula cache. Zero uses the default.
	CacheSize int64
	Logger    *slog.Logger
}

type Client struct {
	store     storage.Store
	metrics   *telemetry.Metrics
	evaluator *mltl.Evaluator
	logger    *slog.Logger

	artifactsDir string
	exportsDir   string
	metricsAddr  string

	mu    sync.Mutex
	polis *platform.Polis
}

// RunRequest starts from ConfigPath (or the defaults) and overrides every
// non-zero field.
// RunRequest overrides fields of the default or loaded config. Pointer fields
// are applied whenever set, so zero is a valid override for them; the other
// numeric fields apply only when positive.
type RunRequest struct {
	ConfigPath              string
	RunID                   string
	DatasetPath             string
	Population              int
	Generations             *int
	MaxTreeDepth            *int
	Seed                    *int64
	MutationRate            *float64
	MutationRateDecay       *float64
	GeneticDifference       *float64
	TargetComputationLength int
	Workers                 int
	MaxUniqueAttempts       int
	TopK                    int
	LogPath                 string
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByGeneration []float64
	FinalBestFitness float64
	BestPhenotype    string
	UniquePhenotypes int
	Evaluations      int
	Duration         time.Duration
	Top              []model.TopIndividualRecord
}

type RunsRequest struct {
	Limit int
}

// RunQuery selects a run by id or the most recent one.
type RunQuery struct {
	RunID  string
	Latest bool
	Limit  int
}

// AnalyzeRequest names a run log by path or by run. A log that several runs
// appended to yields their series back to back.
type AnalyzeRequest struct {
	LogPath string
	RunID   string
	Latest  bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// EvalRequest interprets one formula over a dataset directory.
type EvalRequest struct {
	Formula     string
	DatasetPath string
}

type EvalSummary struct {
	Formula           string
	ComputationLength int
	Depth             int
	TrainAccuracy     float64
	TestAccuracy      float64
	PosTrainAccepted  int
	NegTrainRejected  int
	PosTestAccepted   int
	NegTestRejected   int
}

type GrammarRequest struct {
	DatasetPath  string
	Propositions int
	MaxBound     int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.KindSQLite
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = mltl.DefaultCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	evaluator, err := mltl.NewEvaluator(cacheSize)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:        store,
		metrics:      metrics,
		evaluator:    evaluator,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		metricsAddr:  opts.MetricsAddr,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.polis != nil {
		c.polis.Stop()
		c.polis = nil
	}
	c.mu.Unlock()
	c.evaluator.Close()
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Metrics exposes the client's registry, mostly for embedding in another
// HTTP server.
func (c *Client) Metrics() *telemetry.Metrics { return c.metrics }

// BuildConfig resolves a request into the configuration Run would use,
// without touching the dataset.
func BuildConfig(req RunRequest) (config.RunConfig, error) {
	cfg := config.Default()
	if req.ConfigPath != "" {
		loaded, err := config.Load(req.ConfigPath)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}
	if req.RunID != "" {
		cfg.RunID = req.RunID
	}
	if req.DatasetPath != "" {
		cfg.DatasetPath = req.DatasetPath
	}
	if req.Population > 0 {
		cfg.PopulationSize = req.Population
	}
	if req.Generations != nil {
		cfg.Generations = *req.Generations
	}
	if req.MaxTreeDepth != nil {
		cfg.MaxTreeDepth = *req.MaxTreeDepth
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.MutationRate != nil {
		cfg.MutationRate = *req.MutationRate
	}
	if req.MutationRateDecay != nil {
		cfg.MutationRateDecay = *req.MutationRateDecay
	}
	if req.GeneticDifference != nil {
		cfg.GeneticDifference = *req.GeneticDifference
	}
	if req.TargetComputationLength > 0 {
		cfg.TargetComputationLength = req.TargetComputationLength
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if req.MaxUniqueAttempts > 0 {
		cfg.MaxUniqueAttempts = req.MaxUniqueAttempts
	}
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}
	if req.LogPath != "" {
		cfg.LogPath = req.LogPath
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}

// Run loads the dataset, executes the search, persists it to the store and
// writes the run's artifact directory.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg, err := BuildConfig(req)
	if err != nil {
		return RunSummary{}, err
	}
	split, err := dataset.LoadDir(cfg.DatasetPath)
	if err != nil {
		return RunSummary{}, err
	}
	resolved, err := config.Resolve(cfg, split)
	if err != nil {
		return RunSummary{}, err
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := p.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:             cfg.RunID,
		DatasetPath:       cfg.DatasetPath,
		Split:             split,
		Params:            resolved.Params,
		Evaluator:         c.evaluator,
		PopulationSize:    cfg.PopulationSize,
		Generations:       cfg.Generations,
		Workers:           cfg.Workers,
		Seed:              cfg.Seed,
		GeneticDifference: cfg.GeneticDifference,
		MaxUniqueAttempts: cfg.MaxUniqueAttempts,
		TopK:              cfg.TopK,
	})
	if err != nil {
		return RunSummary{}, err
	}

	runCfg := toRunConfig(resolved, c.storeKind())
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:                runCfg,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		FinalBestFitness:      result.Run.BestFitness,
		UniquePhenotypes:      result.Run.UniquePhenotypes,
		FinalMutationRate:     result.Run.FinalMutationRate,
		TopIndividuals:        result.TopFinal,
		Lineage:               result.Lineage,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            cfg.RunID,
		DatasetPath:      cfg.DatasetPath,
		PopulationSize:   cfg.PopulationSize,
		Generations:      cfg.Generations,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		FinalBestFitness: result.Run.BestFitness,
		BestPhenotype:    result.Run.BestPhenotype,
		CreatedAtUTC:     result.Run.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}
	if cfg.LogPath != "" {
		if err := appendRunLog(cfg.LogPath, runCfg, result.GenerationDiagnostics); err != nil {
			return RunSummary{}, err
		}
	}

	return RunSummary{
		RunID:            cfg.RunID,
		ArtifactsDir:     filepath.Clean(runDir),
		BestByGeneration: slices.Clone(result.BestByGeneration),
		FinalBestFitness: result.Run.BestFitness,
		BestPhenotype:    result.Run.BestPhenotype,
		UniquePhenotypes: result.Run.UniquePhenotypes,
		Evaluations:      result.Run.Evaluations,
		Duration:         time.Duration(result.Run.DurationMillis) * time.Millisecond,
		Top:              result.TopFinal,
	}, nil
}

// StopRun cancels a run started by this client.
func (c *Client) StopRun(ctx context.Context, runID string) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.StopRun(runID)
}

// Runs lists stored runs newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		runs, err = c.indexedRuns()
		if err != nil {
			return nil, err
		}
	} else {
		slices.Reverse(runs)
	}
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(ctx, RunQuery{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req RunQuery) ([]float64, error) {
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return nil, err
	}
	history, ok, err := withArtifacts(ctx, c, runID, c.store.GetFitnessHistory, readBestByGeneration)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	return limit(history, req.Limit), nil
}

func (c *Client) Diagnostics(ctx context.Context, req RunQuery) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := withArtifacts(ctx, c, runID, c.store.GetGenerationDiagnostics, stats.ReadGenerationDiagnostics)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	return limit(diagnostics, req.Limit), nil
}

func (c *Client) TopIndividuals(ctx context.Context, req RunQuery) ([]model.TopIndividualRecord, error) {
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return nil, err
	}
	top, ok, err := withArtifacts(ctx, c, runID, c.store.GetTopIndividuals, stats.ReadTopIndividuals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top individuals not found for run id: %s", runID)
	}
	return limit(top, req.Limit), nil
}

func (c *Client) Lineage(ctx context.Context, req RunQuery) ([]model.LineageRecord, error) {
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return nil, err
	}
	lineage, ok, err := withArtifacts(ctx, c, runID, c.store.GetLineage, stats.ReadLineage)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	return limit(lineage, req.Limit), nil
}

// AnalyzeLog parses a run log into per-iteration series.
func (c *Client) AnalyzeLog(ctx context.Context, req AnalyzeRequest) (stats.LogSeries, error) {
	path := req.LogPath
	if path != "" && (req.RunID != "" || req.Latest) {
		return stats.LogSeries{}, errors.New("use either a log path or a run")
	}
	if path == "" {
		runID, err := c.resolveRunID(ctx, RunQuery{RunID: req.RunID, Latest: req.Latest})
		if err != nil {
			return stats.LogSeries{}, err
		}
		path = filepath.Join(c.artifactsDir, runID, stats.LogFile)
	}
	f, err := os.Open(path)
	if err != nil {
		return stats.LogSeries{}, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	return stats.ParseRunLog(f)
}

// EvaluateFormula scores a hand-written formula on a dataset the way the
// search scores its individuals.
func (c *Client) EvaluateFormula(_ context.Context, req EvalRequest) (EvalSummary, error) {
	formula, err := c.evaluator.Parse(req.Formula)
	if err != nil {
		return EvalSummary{}, err
	}
	split, err := dataset.LoadDir(req.DatasetPath)
	if err != nil {
		return EvalSummary{}, err
	}

	out := EvalSummary{
		Formula:           formula.String(),
		ComputationLength: formula.ComputationLength(),
		Depth:             formula.Depth(),
	}
	if out.PosTrainAccepted, err = c.count(req.Formula, split.PosTrain, true); err != nil {
		return EvalSummary{}, err
	}
	if out.NegTrainRejected, err = c.count(req.Formula, split.NegTrain, false); err != nil {
		return EvalSummary{}, err
	}
	if out.PosTestAccepted, err = c.count(req.Formula, split.PosTest, true); err != nil {
		return EvalSummary{}, err
	}
	if out.NegTestRejected, err = c.count(req.Formula, split.NegTest, false); err != nil {
		return EvalSummary{}, err
	}
	out.TrainAccuracy = ratio(out.PosTrainAccepted+out.NegTrainRejected, len(split.PosTrain)+len(split.NegTrain))
	out.TestAccuracy = ratio(out.PosTestAccepted+out.NegTestRejected, len(split.PosTest)+len(split.NegTest))
	return out, nil
}

// Grammar renders the grammar for a dataset, or for explicit dimensions
// when DatasetPath is empty.
func (c *Client) Grammar(_ context.Context, req GrammarRequest) (*grammar.Grammar, error) {
	n, maxBound := req.Propositions, req.MaxBound
	if req.DatasetPath != "" {
		split, err := dataset.LoadDir(req.DatasetPath)
		if err != nil {
			return nil, err
		}
		n, maxBound = split.PropositionCount(), split.MaxTrainLength()
	}
	return grammar.New(n, maxBound)
}

// DescribeDataset summarizes a dataset directory without running a search.
func (c *Client) DescribeDataset(_ context.Context, path string) (datainfo.Info, error) {
	return datainfo.Describe(path)
}

func (c *Client) count(formula string, traces []dataset.Trace, want bool) (int, error) {
	n := 0
	for i, trace := range traces {
		got, err := c.evaluator.Evaluate(formula, trace)
		if err != nil {
			return 0, fmt.Errorf("trace %d: %w", i, err)
		}
		if got == want {
			n++
		}
	}
	return n, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c *Client) resolveRunID(ctx context.Context, req RunQuery) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return "", err
	}
	if !req.Latest {
		if req.RunID == "" {
			return "", errors.New("run id or latest is required")
		}
		return req.RunID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) > 0 {
		return runs[len(runs)-1].ID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

// indexedRuns lists the runs recorded in the artifacts index, newest first.
// It serves stores that never saw those runs, such as a fresh memory store.
func (c *Client) indexedRuns() ([]model.RunRecord, error) {
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	runs := make([]model.RunRecord, 0, len(entries))
	for _, e := range entries {
		run := model.RunRecord{
			ID:             e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			DatasetPath:    e.DatasetPath,
			Seed:           e.Seed,
			PopulationSize: e.PopulationSize,
			Generations:    e.Generations,
			BestFitness:    e.FinalBestFitness,
			BestPhenotype:  e.BestPhenotype,
			Status:         platform.StatusCompleted,
		}
		cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			run.MaxTreeDepth = cfg.MaxTreeDepth
			run.Propositions = cfg.Propositions
			run.MaxBound = cfg.MaxBound
		}
		history, ok, err := stats.ReadFitnessHistory(c.artifactsDir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			run.UniquePhenotypes = history.UniquePhenotypes
			run.FinalMutationRate = history.FinalMutationRate
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// withArtifacts reads a run payload from the store and falls back to the
// run's artifacts directory when the store has no record of it.
func withArtifacts[T any](
	ctx context.Context,
	c *Client,
	runID string,
	get func(context.Context, string) (T, bool, error),
	read func(baseDir, runID string) (T, bool, error),
) (T, bool, error) {
	v, ok, err := get(ctx, runID)
	if err != nil || ok {
		return v, ok, err
	}
	return read(c.artifactsDir, runID)
}

func readBestByGeneration(baseDir, runID string) ([]float64, bool, error) {
	history, ok, err := stats.ReadFitnessHistory(baseDir, runID)
	return history.BestByGeneration, ok, err
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polis != nil {
		return c.polis, nil
	}
	var modules []platform.SupportModule
	if c.metricsAddr != "" {
		modules = append(modules, platform.NewMetricsModule(c.metrics, c.metricsAddr, c.logger))
	}
	p := platform.NewPolis(platform.Config{
		Store:          c.store,
		Metrics:        c.metrics,
		Logger:         c.logger,
		SupportModules: modules,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}

func (c *Client) storeKind() string {
	switch c.store.(type) {
	case *storage.SQLiteStore:
		return storage.KindSQLite
	case *storage.BadgerStore:
		return storage.KindBadger
	default:
		return storage.KindMemory
	}
}

func toRunConfig(r config.Resolved, storeKind string) stats.RunConfig {
	cfg := r.Config
	return stats.RunConfig{
		RunID:                   cfg.RunID,
		DatasetPath:             cfg.DatasetPath,
		Seed:                    cfg.Seed,
		PopulationSize:          cfg.PopulationSize,
		Generations:             cfg.Generations,
		MaxTreeDepth:            cfg.MaxTreeDepth,
		GenotypeLength:          r.Params.GenotypeLength,
		GenotypeMax:             r.Params.GenotypeMax,
		Propositions:            r.Propositions,
		MaxBound:                r.MaxBound,
		MutationRate:            cfg.MutationRate,
		MutationRateDecay:       cfg.MutationRateDecay,
		GeneticDifference:       cfg.GeneticDifference,
		TargetComputationLength: r.Params.TargetComputationLength,
		WeightAccuracy:          cfg.Weights.Accuracy,
		WeightComplen:           cfg.Weights.ComputationLength,
		WeightLength:            cfg.Weights.Length,
		WeightTreeDepth:         cfg.Weights.TreeDepth,
		Workers:                 cfg.Workers,
		MaxUniqueAttempts:       cfg.MaxUniqueAttempts,
		TopK:                    cfg.TopK,
		Store:                   storeKind,
	}
}

func appendRunLog(path string, cfg stats.RunConfig, diagnostics []model.GenerationDiagnostics) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := stats.WriteRunLog(f, cfg, diagnostics); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return slices.Clone(items)
}
