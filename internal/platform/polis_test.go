package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mltlsge/internal/config"
	"mltlsge/internal/dataset"
	"mltlsge/internal/evo"
	"mltlsge/internal/mltl"
	"mltlsge/internal/storage"
	"mltlsge/internal/telemetry"
)

func testSplit() dataset.Split {
	return dataset.Split{
		PosTrain: []dataset.Trace{{"10", "00", "00"}, {"11", "01", "00"}, {"10", "10", "01"}},
		NegTrain: []dataset.Trace{{"00", "10", "00"}, {"01", "00", "11"}, {"00", "00", "00"}},
		PosTest:  []dataset.Trace{{"10", "01", "01"}},
		NegTest:  []dataset.Trace{{"01", "01", "01"}},
	}
}

func testEvolutionConfig(t *testing.T, eval evo.Evaluator) EvolutionConfig {
	t.Helper()
	cfg := config.Default()
	cfg.DatasetPath = "testdata/basic"
	cfg.MaxTreeDepth = 3
	resolved, err := config.Resolve(cfg, testSplit())
	require.NoError(t, err)
	return EvolutionConfig{
		RunID:          "run-1",
		DatasetPath:    cfg.DatasetPath,
		Split:          testSplit(),
		Params:         resolved.Params,
		Evaluator:      eval,
		PopulationSize: 10,
		Generations:    3,
		Workers:        2,
		Seed:           11,
		TopK:           3,
	}
}

func testEvaluator(t *testing.T) *mltl.Evaluator {
	t.Helper()
	e, err := mltl.NewEvaluator(1024)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return func() time.Time { return at }
}

type recordingModule struct {
	name     string
	startErr error
	mu       sync.Mutex
	events   []string
}

func (m *recordingModule) Name() string { return m.name }

func (m *recordingModule) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "start")
	return m.startErr
}

func (m *recordingModule) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "stop")
	return nil
}

func (m *recordingModule) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func TestPolisRunEvolutionPersistsRun(t *testing.T) {
	ctx := context.Background()
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	p := NewPolis(Config{Store: store, Metrics: metrics, Now: fixedClock()})
	require.NoError(t, p.Init(ctx))

	cfg := testEvolutionConfig(t, testEvaluator(t))
	result, err := p.RunEvolution(ctx, cfg)
	require.NoError(t, err)

	assert.Len(t, result.BestByGeneration, cfg.Generations+1)
	assert.Len(t, result.GenerationDiagnostics, cfg.Generations+1)
	require.Len(t, result.TopFinal, 3)
	for i, top := range result.TopFinal {
		assert.Equal(t, i+1, top.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, result.TopFinal[i-1].Individual.Fitness, top.Individual.Fitness)
		}
		assert.NotEmpty(t, top.Individual.Codons)
	}
	assert.Len(t, result.Population.Individuals, cfg.PopulationSize)
	assert.Len(t, result.Lineage, cfg.PopulationSize+cfg.Generations*8)

	run := result.Run
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "2026-03-04T05:06:07Z", run.CreatedAtUTC)
	assert.Equal(t, 2, run.Propositions)
	assert.Equal(t, 3, run.MaxBound)
	assert.Equal(t, result.TopFinal[0].Individual.Phenotype, run.BestPhenotype)
	assert.Equal(t, result.BestByGeneration[len(result.BestByGeneration)-1], run.BestFitness)
	assert.Equal(t, 10+cfg.Generations*8, run.Evaluations)

	stored, ok, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run, stored)

	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.BestByGeneration, history)

	top, ok, err := store.GetTopIndividuals(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.TopFinal, top)

	lineage, ok, err := store.GetLineage(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.CurrentSchemaVersion, lineage[0].SchemaVersion)

	count, err := testutil.GatherAndCount(metrics.Registry(), "mltlsge_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, p.ActiveRuns())
}

func TestPolisRunEvolutionIsDeterministic(t *testing.T) {
	ctx := context.Background()
	run := func(workers int) EvolutionResult {
		p := NewPolis(Config{Store: storage.NewMemoryStore(), Now: fixedClock()})
		require.NoError(t, p.Init(ctx))
		cfg := testEvolutionConfig(t, testEvaluator(t))
		cfg.Workers = workers
		result, err := p.RunEvolution(ctx, cfg)
		require.NoError(t, err)
		return result
	}
	a, b := run(1), run(4)
	assert.Equal(t, a.BestByGeneration, b.BestByGeneration)
	assert.Equal(t, a.TopFinal, b.TopFinal)
	assert.Equal(t, a.Lineage, b.Lineage)
}

func TestPolisRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	_, err := p.RunEvolution(context.Background(), testEvolutionConfig(t, testEvaluator(t)))
	require.Error(t, err)

	require.Error(t, NewPolis(Config{}).Init(context.Background()))
}

type gatedEvaluator struct {
	inner   evo.Evaluator
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedEvaluator) Evaluate(formula string, trace []string) (bool, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.inner.Evaluate(formula, trace)
}

func TestPolisStopRun(t *testing.T) {
	ctx := context.Background()
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	p := NewPolis(Config{Store: store, Metrics: metrics})
	require.NoError(t, p.Init(ctx))

	gate := &gatedEvaluator{inner: testEvaluator(t), started: make(chan struct{}), release: make(chan struct{})}
	cfg := testEvolutionConfig(t, gate)
	cfg.Workers = 1

	errCh := make(chan error, 1)
	go func() {
		_, err := p.RunEvolution(ctx, cfg)
		errCh <- err
	}()

	<-gate.started
	assert.Equal(t, []string{"run-1"}, p.ActiveRuns())
	require.Error(t, p.StopRun("other"))
	require.NoError(t, p.StopRun("run-1"))
	close(gate.release)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrRunStopped)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	_, ok, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
	count, err := testutil.GatherAndCount(metrics.Registry(), "mltlsge_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, p.ActiveRuns())
}

func TestPolisRejectsConcurrentRunWithSameID(t *testing.T) {
	ctx := context.Background()
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	require.NoError(t, p.Init(ctx))

	gate := &gatedEvaluator{inner: testEvaluator(t), started: make(chan struct{}), release: make(chan struct{})}
	cfg := testEvolutionConfig(t, gate)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.RunEvolution(ctx, cfg)
		errCh <- err
	}()
	<-gate.started

	_, err := p.RunEvolution(ctx, testEvolutionConfig(t, testEvaluator(t)))
	require.ErrorContains(t, err, "already active")

	close(gate.release)
	require.NoError(t, <-errCh)
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(string, []string) (bool, error) {
	return false, errors.New("backend down")
}

func TestPolisRunEvolutionPropagatesEvaluatorError(t *testing.T) {
	ctx := context.Background()
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	require.NoError(t, p.Init(ctx))

	_, err := p.RunEvolution(ctx, testEvolutionConfig(t, failingEvaluator{}))
	require.ErrorContains(t, err, "backend down")
	assert.NotErrorIs(t, err, ErrRunStopped)
}

func TestPolisSupportModuleLifecycle(t *testing.T) {
	ctx := context.Background()
	a := &recordingModule{name: "a"}
	b := &recordingModule{name: "b"}
	p := NewPolis(Config{Store: storage.NewMemoryStore(), SupportModules: []SupportModule{a, b}})
	require.NoError(t, p.Init(ctx))
	assert.True(t, p.Started())
	assert.Equal(t, []string{"a", "b"}, p.ActiveSupportModules())

	require.Error(t, p.StopWithReason("bogus"))
	p.Shutdown()
	assert.False(t, p.Started())
	assert.Equal(t, StopReasonShutdown, p.LastStopReason())
	assert.Equal(t, []string{"start", "stop"}, a.Events())
	assert.Equal(t, []string{"start", "stop"}, b.Events())
	assert.Empty(t, p.ActiveSupportModules())
}

func TestPolisInitRollsBackOnModuleFailure(t *testing.T) {
	ok := &recordingModule{name: "ok"}
	bad := &recordingModule{name: "bad", startErr: errors.New("boom")}
	p := NewPolis(Config{Store: storage.NewMemoryStore(), SupportModules: []SupportModule{ok, bad}})

	err := p.Init(context.Background())
	require.ErrorContains(t, err, "boom")
	assert.False(t, p.Started())
	assert.Equal(t, []string{"start", "stop"}, ok.Events())
}

func TestMetricsModuleServesRegistry(t *testing.T) {
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)
	module := NewMetricsModule(metrics, "127.0.0.1:0", nil)
	assert.Nil(t, module.Addr())

	p := NewPolis(Config{Store: storage.NewMemoryStore(), Metrics: metrics, SupportModules: []SupportModule{module}})
	require.NoError(t, p.Init(context.Background()))
	require.NotNil(t, module.Addr())
	assert.Equal(t, []string{"metrics"}, p.ActiveSupportModules())

	p.Stop()
	require.NoError(t, module.Stop(context.Background()))
}
