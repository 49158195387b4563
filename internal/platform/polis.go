// Package platform owns the run lifecycle: it wires a search to its store,
// metrics and support modules, and persists what a finished run produced.
package platform

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mltlsge/internal/dataset"
	"mltlsge/internal/evo"
	"mltlsge/internal/model"
	"mltlsge/internal/storage"
	"mltlsge/internal/telemetry"
)

// Run statuses recorded in run records and metrics.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

const DefaultTopK = 5

type Config struct {
	Store          storage.Store
	Metrics        *telemetry.Metrics
	Logger         *slog.Logger
	SupportModules []SupportModule
	// Now is the clock used for run timestamps. Defaults to time.Now.
	Now func() time.Time
}

// SupportModule is a long-lived helper started with the polis, such as a
// metrics endpoint.
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

var ErrRunStopped = errors.New("run stopped")

type EvolutionConfig struct {
	RunID             string
	DatasetPath       string
	Split             dataset.Split
	Params            evo.Params
	Evaluator         evo.Evaluator
	PopulationSize    int
	Generations       int
	Workers           int
	Seed              int64
	GeneticDifference float64
	MaxUniqueAttempts int
	TopK              int
}

type EvolutionResult struct {
	Run                   model.RunRecord
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	TopFinal              []model.TopIndividualRecord
	Population            model.PopulationRecord
	Lineage               []model.LineageRecord
}

type Polis struct {
	store   storage.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
	supportModules map[string]SupportModule
	runs           map[string]context.CancelFunc

	config Config
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Polis{
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		logger:         logger,
		now:            now,
		supportModules: make(map[string]SupportModule),
		runs:           make(map[string]context.CancelFunc),
		lastStopReason: StopReasonNormal,
		config:         cfg,
	}
}

// Init initializes the store and starts support modules. A module failing
// to start stops the ones already running.
func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}

	started := make([]SupportModule, 0, len(p.config.SupportModules))
	for _, module := range p.config.SupportModules {
		if module == nil {
			continue
		}
		if _, exists := p.supportModules[module.Name()]; exists {
			stopSupportModules(ctx, started)
			p.supportModules = make(map[string]SupportModule)
			return fmt.Errorf("duplicate support module: %s", module.Name())
		}
		if err := module.Start(ctx); err != nil {
			stopSupportModules(ctx, started)
			p.supportModules = make(map[string]SupportModule)
			return fmt.Errorf("start support module %s: %w", module.Name(), err)
		}
		started = append(started, module)
		p.supportModules[module.Name()] = module
	}

	p.started = true
	return nil
}

func (p *Polis) Store() storage.Store { return p.store }

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

// StopWithReason cancels active runs and stops support modules. The store
// is left open for the caller to close.
func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if reason != StopReasonNormal && reason != StopReasonShutdown {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
	modules := make([]SupportModule, 0, len(p.supportModules))
	for _, module := range p.supportModules {
		modules = append(modules, module)
	}
	stopSupportModules(context.Background(), modules)

	p.started = false
	p.lastStopReason = reason
	p.supportModules = make(map[string]SupportModule)
	p.runs = make(map[string]context.CancelFunc)
	return nil
}

// ActiveSupportModules lists running module names in sorted order.
func (p *Polis) ActiveSupportModules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.supportModules))
	for name := range p.supportModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveRuns lists the ids of runs in progress in sorted order.
func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunEvolution executes one search and persists its run record, final
// population, fitness history, diagnostics, top individuals and lineage.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if !p.Started() {
		return EvolutionResult{}, fmt.Errorf("polis is not initialized")
	}
	if cfg.Evaluator == nil {
		return EvolutionResult{}, fmt.Errorf("evaluator is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("mltlsge:%d", cfg.Seed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(runID, cancel); err != nil {
		return EvolutionResult{}, err
	}
	defer p.unregisterRun(runID)

	runCtx, span := telemetry.Tracer().Start(runCtx, "platform.run_evolution", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("dataset_path", cfg.DatasetPath),
	))
	defer span.End()

	var observer evo.Observer
	if p.metrics != nil {
		observer = p.metrics.Observer(runID)
	}
	logger := p.logger.With("run_id", runID)

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Params:            cfg.Params,
		Split:             cfg.Split,
		Evaluator:         cfg.Evaluator,
		Ranker:            evo.RankerFor(cfg.GeneticDifference),
		Observer:          observer,
		Logger:            logger,
		PopulationSize:    cfg.PopulationSize,
		Generations:       cfg.Generations,
		Workers:           cfg.Workers,
		Seed:              cfg.Seed,
		MaxUniqueAttempts: cfg.MaxUniqueAttempts,
	})
	if err != nil {
		return EvolutionResult{}, err
	}

	started := p.now()
	logger.Info("run started",
		"dataset_path", cfg.DatasetPath,
		"population_size", cfg.PopulationSize,
		"generations", cfg.Generations,
		"seed", cfg.Seed,
	)
	result, err := monitor.Run(runCtx)
	if err != nil {
		span.RecordError(err)
		status := StatusFailed
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			status = StatusStopped
			err = fmt.Errorf("%w: %s: %w", ErrRunStopped, runID, err)
		}
		p.runFinished(status)
		logger.Error("run ended", "status", status, "error", err)
		return EvolutionResult{}, err
	}

	out := EvolutionResult{
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: toModelDiagnostics(result.GenerationDiagnostics),
		TopFinal:              toModelTop(result.FinalPopulation, cfg.TopK),
		Population: model.PopulationRecord{
			VersionedRecord: storage.Versioned(),
			RunID:           runID,
			Generation:      cfg.Generations,
			Individuals:     toModelIndividuals(result.FinalPopulation),
		},
		Lineage: toModelLineage(result.Lineage),
	}
	out.Run = model.RunRecord{
		VersionedRecord:   storage.Versioned(),
		ID:                runID,
		CreatedAtUTC:      started.UTC().Format(time.RFC3339Nano),
		DatasetPath:       cfg.DatasetPath,
		Seed:              cfg.Seed,
		PopulationSize:    cfg.PopulationSize,
		Generations:       cfg.Generations,
		MaxTreeDepth:      cfg.Params.MaxTreeDepth,
		Propositions:      cfg.Params.Grammar.Propositions(),
		MaxBound:          cfg.Params.Grammar.MaxBound(),
		UniquePhenotypes:  result.UniquePhenotypes,
		FinalMutationRate: result.FinalMutationRate,
		Evaluations:       monitor.Evaluations(),
		DurationMillis:    p.now().Sub(started).Milliseconds(),
		Status:            StatusCompleted,
	}
	if len(out.TopFinal) > 0 {
		best := out.TopFinal[0].Individual
		out.Run.BestFitness = best.Fitness
		out.Run.BestPhenotype = best.Phenotype
		out.Run.BestAccuracy = best.Accuracy
		out.Run.BestTestAccuracy = best.TestAccuracy
	}

	if err := p.persist(ctx, out); err != nil {
		span.RecordError(err)
		p.runFinished(StatusFailed)
		return EvolutionResult{}, fmt.Errorf("persist run %s: %w", runID, err)
	}
	p.runFinished(StatusCompleted)
	span.SetAttributes(attribute.Float64("best_fitness", out.Run.BestFitness))
	logger.Info("run completed",
		"best_fitness", out.Run.BestFitness,
		"best_phenotype", out.Run.BestPhenotype,
		"unique_phenotypes", out.Run.UniquePhenotypes,
		"evaluations", out.Run.Evaluations,
	)
	return out, nil
}

func (p *Polis) persist(ctx context.Context, out EvolutionResult) error {
	runID := out.Run.ID
	if err := p.store.SavePopulation(ctx, out.Population); err != nil {
		return err
	}
	if err := p.store.SaveFitnessHistory(ctx, runID, out.BestByGeneration); err != nil {
		return err
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, runID, out.GenerationDiagnostics); err != nil {
		return err
	}
	if err := p.store.SaveTopIndividuals(ctx, runID, out.TopFinal); err != nil {
		return err
	}
	if err := p.store.SaveLineage(ctx, runID, out.Lineage); err != nil {
		return err
	}
	// the run record goes last so a listed run always has its artifacts
	return p.store.SaveRun(ctx, out.Run)
}

func (p *Polis) runFinished(status string) {
	if p.metrics != nil {
		p.metrics.RunFinished(status)
	}
}

// StopRun cancels an active run. The run returns ErrRunStopped at its next
// evaluation or generation boundary.
func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}

func toModelIndividual(ind *evo.Individual) model.IndividualRecord {
	codons, used := ind.Genotype().ToMap()
	return model.IndividualRecord{
		ID:                ind.ID(),
		Phenotype:         ind.Phenotype(),
		Fitness:           ind.Fitness(),
		Accuracy:          ind.Accuracy(),
		TestAccuracy:      ind.TestAccuracy(),
		ComputationLength: ind.ComputationLength(),
		TreeDepth:         ind.TreeDepth(),
		Length:            ind.Length(),
		DerivationDepth:   ind.DerivationDepth(),
		MutationRate:      ind.MutationRate(),
		Codons:            codons,
		Used:              used,
	}
}

func toModelIndividuals(population []*evo.Individual) []model.IndividualRecord {
	out := make([]model.IndividualRecord, 0, len(population))
	for _, ind := range population {
		out = append(out, toModelIndividual(ind))
	}
	return out
}

// toModelTop ranks by fitness alone; the population order may carry a
// genetic-difference reranking.
func toModelTop(population []*evo.Individual, k int) []model.TopIndividualRecord {
	ranked := slices.Clone(population)
	slices.SortStableFunc(ranked, func(a, b *evo.Individual) int {
		return cmp.Compare(b.Fitness(), a.Fitness())
	})
	k = min(k, len(ranked))
	out := make([]model.TopIndividualRecord, 0, k)
	for i, ind := range ranked[:k] {
		out = append(out, model.TopIndividualRecord{
			VersionedRecord: storage.Versioned(),
			Rank:            i + 1,
			Individual:      toModelIndividual(ind),
		})
	}
	return out
}

func toModelLineage(lineage []evo.LineageRecord) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(lineage))
	for _, rec := range lineage {
		out = append(out, model.LineageRecord{
			VersionedRecord:  storage.Versioned(),
			IndividualID:     rec.IndividualID,
			ParentIDs:        slices.Clone(rec.ParentIDs),
			Generation:       rec.Generation,
			Operation:        rec.Operation,
			Phenotype:        rec.Phenotype,
			CrossoverPoints:  slices.Clone(rec.CrossoverPoints),
			MutationAttempts: rec.MutationAttempts,
		})
	}
	return out
}

func toModelDiagnostics(diags []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(diags))
	for _, d := range diags {
		out = append(out, model.GenerationDiagnostics{
			Generation:            d.Generation,
			BestFitness:           d.BestFitness,
			MeanFitness:           d.MeanFitness,
			MinFitness:            d.MinFitness,
			BestPhenotype:         d.BestPhenotype,
			BestAccuracy:          d.BestAccuracy,
			BestTestAccuracy:      d.BestTestAccuracy,
			BestComputationLength: d.BestComputationLength,
			BestTreeDepth:         d.BestTreeDepth,
			BestLength:            d.BestLength,
			MeanAccuracy:          d.MeanAccuracy,
			UniquePhenotypes:      d.UniquePhenotypes,
			MutationRate:          d.MutationRate,
			Parents:               d.Parents,
			Offspring:             d.Offspring,
			MutationAttempts:      d.MutationAttempts,
			Evaluations:           d.Evaluations,
		})
	}
	return out
}
