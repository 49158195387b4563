package evo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mltlsge/internal/dataset"
	"mltlsge/internal/grammar"
)

const tracerName = "mltlsge/internal/evo"

// Lineage operations.
const (
	OperationSeed      = "seed"
	OperationCrossover = "crossover"
)

// State is the phase the search loop is in.
type State string

const (
	StateInit      State = "init"
	StateEvaluated State = "evaluated"
	StateSelect    State = "select"
	StateRecombine State = "recombine"
	StateMutate    State = "mutate"
	StateDone      State = "done"
)

type RunResult struct {
	BestByGeneration      []float64
	GenerationDiagnostics []GenerationDiagnostics
	FinalPopulation       []*Individual
	Lineage               []LineageRecord
	UniquePhenotypes      int
	FinalMutationRate     float64
}

// GenerationDiagnostics summarizes the population after a generation's
// evaluation. Generation 0 is the initial population.
type GenerationDiagnostics struct {
	Generation            int     `json:"generation"`
	BestFitness           float64 `json:"best_fitness"`
	MeanFitness           float64 `json:"mean_fitness"`
	MinFitness            float64 `json:"min_fitness"`
	BestPhenotype         string  `json:"best_phenotype"`
	BestAccuracy          float64 `json:"best_accuracy"`
	BestTestAccuracy      float64 `json:"best_test_accuracy"`
	BestComputationLength int     `json:"best_computation_length"`
	BestTreeDepth         int     `json:"best_tree_depth"`
	BestLength            int     `json:"best_length"`
	MeanAccuracy          float64 `json:"mean_accuracy"`
	UniquePhenotypes      int     `json:"unique_phenotypes"`
	MutationRate          float64 `json:"mutation_rate"`
	Parents               int     `json:"parents"`
	Offspring             int     `json:"offspring"`
	MutationAttempts      int     `json:"mutation_attempts"`
	Evaluations           int     `json:"evaluations"`
}

type LineageRecord struct {
	IndividualID     string   `json:"individual_id"`
	ParentIDs        []string `json:"parent_ids,omitempty"`
	Generation       int      `json:"generation"`
	Operation        string   `json:"operation"`
	Phenotype        string   `json:"phenotype"`
	CrossoverPoints  []int    `json:"crossover_points,omitempty"`
	MutationAttempts int      `json:"mutation_attempts,omitempty"`
}

// Observer receives progress events. Calls come from the monitor goroutine
// except ObserveEvaluation, which evaluation workers call concurrently.
type Observer interface {
	ObserveEvaluation(elapsed time.Duration)
	ObserveGeneration(diag GenerationDiagnostics)
}

type NoopObserver struct{}

func (NoopObserver) ObserveEvaluation(time.Duration) {}

func (NoopObserver) ObserveGeneration(GenerationDiagnostics) {}

type MonitorConfig struct {
	Params            Params
	Split             dataset.Split
	Evaluator         Evaluator
	Ranker            Ranker
	Observer          Observer
	Logger            *slog.Logger
	PopulationSize    int
	Generations       int
	Workers           int
	Seed              int64
	MaxUniqueAttempts int
}

// PopulationMonitor runs the generational search. A monitor is single use.
type PopulationMonitor struct {
	cfg       MonitorConfig
	params    *Params
	rng       *rand.Rand
	table     *PhenotypeTable
	logger    *slog.Logger
	tracer    trace.Tracer
	state     State
	rate      float64
	evaluated int
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if err := cfg.Split.Validate(); err != nil {
		return nil, err
	}
	if width := cfg.Split.PropositionCount(); cfg.Params.Grammar.Propositions() > width {
		return nil, fmt.Errorf("grammar has %d propositions but traces are %d wide", cfg.Params.Grammar.Propositions(), width)
	}
	if cfg.PopulationSize < 2*TruncationFraction {
		return nil, fmt.Errorf("population size must be >= %d", 2*TruncationFraction)
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("generations must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxUniqueAttempts <= 0 {
		cfg.MaxUniqueAttempts = DefaultMaxUniqueAttempts
	}
	if cfg.Ranker == nil {
		cfg.Ranker = NoopRanker{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	params := cfg.Params
	return &PopulationMonitor{
		cfg:    cfg,
		params: &params,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		table:  NewPhenotypeTable(),
		logger: cfg.Logger,
		tracer: otel.Tracer(tracerName),
		state:  StateInit,
		rate:   params.MutationRate,
	}, nil
}

// Grammar is the grammar individuals are derived with.
func (m *PopulationMonitor) Grammar() *grammar.Grammar { return m.params.Grammar }

func (m *PopulationMonitor) State() State { return m.state }

// Evaluations counts individual evaluations performed so far.
func (m *PopulationMonitor) Evaluations() int { return m.evaluated }

// Phenotypes exposes the run's phenotype table.
func (m *PopulationMonitor) Phenotypes() *PhenotypeTable { return m.table }

// Run executes the initial evaluation and then the configured number of
// generations. ctx is only checked between evaluations and generations.
func (m *PopulationMonitor) Run(ctx context.Context) (RunResult, error) {
	if m.state != StateInit {
		return RunResult{}, fmt.Errorf("population monitor already ran")
	}
	ctx, span := m.tracer.Start(ctx, "evo.run", trace.WithAttributes(
		attribute.Int("population_size", m.cfg.PopulationSize),
		attribute.Int("generations", m.cfg.Generations),
		attribute.Int64("seed", m.cfg.Seed),
	))
	defer span.End()

	result, err := m.run(ctx)
	if err != nil {
		span.RecordError(err)
		return RunResult{}, err
	}
	return result, nil
}

func (m *PopulationMonitor) run(ctx context.Context) (RunResult, error) {
	population, err := m.initialize()
	if err != nil {
		return RunResult{}, err
	}

	lineage := make([]LineageRecord, 0, m.cfg.PopulationSize*(m.cfg.Generations+1))
	for _, ind := range population {
		lineage = append(lineage, LineageRecord{
			IndividualID: ind.id,
			Generation:   0,
			Operation:    OperationSeed,
			Phenotype:    ind.phenotype,
		})
	}

	bestHistory := make([]float64, 0, m.cfg.Generations+1)
	diagnostics := make([]GenerationDiagnostics, 0, m.cfg.Generations+1)

	population, evals, err := m.evaluate(ctx, population)
	if err != nil {
		return RunResult{}, err
	}
	diag := m.diagnose(0, population, 0, 0, evals)
	bestHistory = append(bestHistory, diag.BestFitness)
	diagnostics = append(diagnostics, diag)
	m.report(diag)

	for gen := 1; gen <= m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		genCtx, span := m.tracer.Start(ctx, "evo.generation", trace.WithAttributes(attribute.Int("generation", gen)))

		m.state = StateSelect
		parents := TruncationSelect(population)

		m.state = StateRecombine
		offspring, err := Recombine(m.rng, parents, m.cfg.PopulationSize-len(parents))
		if err != nil {
			span.End()
			return RunResult{}, err
		}

		m.state = StateMutate
		reserved := make(map[string]struct{}, len(offspring))
		taken := func(phenotype string) bool {
			if _, ok := reserved[phenotype]; ok {
				return true
			}
			return m.table.Contains(phenotype)
		}
		next := make([]*Individual, 0, m.cfg.PopulationSize)
		next = append(next, parents...)
		totalAttempts := 0
		for i, off := range offspring {
			off.Child.mutationRate = m.rate
			attempts, err := MutateUntilUnique(m.rng, off.Child, taken, m.cfg.MaxUniqueAttempts)
			if err != nil {
				span.End()
				return RunResult{}, fmt.Errorf("generation %d offspring %d: %w", gen, i, err)
			}
			totalAttempts += attempts
			reserved[off.Child.phenotype] = struct{}{}
			off.Child.id = individualID(gen, i)
			next = append(next, off.Child)
			lineage = append(lineage, LineageRecord{
				IndividualID:     off.Child.id,
				ParentIDs:        []string{off.Parent1.id, off.Parent2.id},
				Generation:       gen,
				Operation:        OperationCrossover,
				Phenotype:        off.Child.phenotype,
				CrossoverPoints:  off.Points[:],
				MutationAttempts: attempts,
			})
		}

		population, evals, err = m.evaluate(genCtx, next)
		if err != nil {
			span.End()
			return RunResult{}, err
		}

		m.rate *= m.params.MutationRateDecay
		for _, ind := range population {
			ind.mutationRate = m.rate
		}

		diag := m.diagnose(gen, population, len(parents), totalAttempts, evals)
		bestHistory = append(bestHistory, diag.BestFitness)
		diagnostics = append(diagnostics, diag)
		m.report(diag)
		span.SetAttributes(attribute.Float64("best_fitness", diag.BestFitness))
		span.End()
	}

	m.state = StateDone
	return RunResult{
		BestByGeneration:      bestHistory,
		GenerationDiagnostics: diagnostics,
		FinalPopulation:       sortByFitness(population),
		Lineage:               lineage,
		UniquePhenotypes:      m.table.Len(),
		FinalMutationRate:     m.rate,
	}, nil
}

func individualID(generation, index int) string {
	return fmt.Sprintf("g%d-i%d", generation, index)
}

// initialize samples random individuals until PopulationSize distinct
// phenotypes are found.
func (m *PopulationMonitor) initialize() ([]*Individual, error) {
	seen := make(map[string]struct{}, m.cfg.PopulationSize)
	population := make([]*Individual, 0, m.cfg.PopulationSize)
	budget := m.cfg.MaxUniqueAttempts * m.cfg.PopulationSize
	for attempts := 0; len(population) < m.cfg.PopulationSize; attempts++ {
		if attempts >= budget {
			return nil, fmt.Errorf("%w: found %d of %d initial phenotypes", ErrPhenotypeSpaceExhausted, len(population), m.cfg.PopulationSize)
		}
		ind, err := NewIndividual(m.params, m.rng, nil)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ind.phenotype]; dup {
			continue
		}
		seen[ind.phenotype] = struct{}{}
		ind.id = individualID(0, len(population))
		population = append(population, ind)
	}
	return population, nil
}

// evaluate scores every unevaluated individual on the worker pool, merges
// the phenotype table in population order, sorts by descending fitness and
// applies the ranker.
func (m *PopulationMonitor) evaluate(ctx context.Context, population []*Individual) ([]*Individual, int, error) {
	pending := make([]*Individual, 0, len(population))
	for _, ind := range population {
		if !ind.evaluated {
			pending = append(pending, ind)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, ind := range pending {
		g.Go(func() error {
			start := time.Now()
			if err := ind.Evaluate(gctx, m.cfg.Evaluator, m.cfg.Split); err != nil {
				return fmt.Errorf("evaluate %s %q: %w", ind.id, ind.phenotype, err)
			}
			m.cfg.Observer.ObserveEvaluation(time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	m.evaluated += len(pending)

	for _, ind := range population {
		m.table.Record(ind.phenotype, ind.fitness)
	}

	m.state = StateEvaluated
	return m.cfg.Ranker.Rank(sortByFitness(population)), len(pending), nil
}

// sortByFitness returns a copy ordered by descending raw fitness. The sort is
// stable so ties keep population order.
func sortByFitness(population []*Individual) []*Individual {
	sorted := append([]*Individual(nil), population...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].fitness > sorted[j].fitness
	})
	return sorted
}

func (m *PopulationMonitor) diagnose(gen int, population []*Individual, parents, attempts, evals int) GenerationDiagnostics {
	best := population[0]
	diag := GenerationDiagnostics{
		Generation:            gen,
		BestFitness:           best.fitness,
		MinFitness:            math.Inf(1),
		BestPhenotype:         best.phenotype,
		BestAccuracy:          best.accuracy,
		BestTestAccuracy:      best.testAccuracy,
		BestComputationLength: best.computationLength,
		BestTreeDepth:         best.treeDepth,
		BestLength:            best.Length(),
		UniquePhenotypes:      m.table.Len(),
		MutationRate:          m.rate,
		Parents:               parents,
		Offspring:             len(population) - parents,
		MutationAttempts:      attempts,
		Evaluations:           evals,
	}
	if gen == 0 {
		diag.Offspring = 0
	}
	sumFitness, sumAccuracy := 0.0, 0.0
	for _, ind := range population {
		sumFitness += ind.fitness
		sumAccuracy += ind.accuracy
		diag.MinFitness = math.Min(diag.MinFitness, ind.fitness)
	}
	diag.MeanFitness = sumFitness / float64(len(population))
	diag.MeanAccuracy = sumAccuracy / float64(len(population))
	return diag
}

func (m *PopulationMonitor) report(diag GenerationDiagnostics) {
	m.cfg.Observer.ObserveGeneration(diag)
	m.logger.Info("generation complete",
		"generation", diag.Generation,
		"of", m.cfg.Generations,
		"best_fitness", diag.BestFitness,
		"best_phenotype", diag.BestPhenotype,
		"best_accuracy", diag.BestAccuracy,
		"unique_phenotypes", diag.UniquePhenotypes,
		"mutation_rate", diag.MutationRate,
	)
}
