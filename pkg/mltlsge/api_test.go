package mltlsge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mltlsge/internal/datainfo"
	"mltlsge/internal/dataset"
	"mltlsge/internal/stats"
)

func writeTrace(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

// writeDataset lays out a dataset where p0 holding throughout separates
// the classes.
func writeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTrace(t, filepath.Join(root, dataset.PosTrainDir), "0.txt", "10\n11\n10\n")
	writeTrace(t, filepath.Join(root, dataset.PosTrainDir), "1.txt", "11\n10\n11\n")
	writeTrace(t, filepath.Join(root, dataset.NegTrainDir), "0.txt", "00\n01\n00\n")
	writeTrace(t, filepath.Join(root, dataset.NegTrainDir), "1.txt", "01\n01\n00\n")
	writeTrace(t, filepath.Join(root, dataset.PosTestDir), "0.txt", "10\n10\n10\n")
	writeTrace(t, filepath.Join(root, dataset.NegTestDir), "0.txt", "00\n00\n01\n")
	return root
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, base
}

func ptr[T any](v T) *T { return &v }

func smallRun(datasetPath string) RunRequest {
	return RunRequest{
		DatasetPath:  datasetPath,
		Population:   10,
		Generations:  ptr(2),
		MaxTreeDepth: ptr(3),
		Seed:         ptr(int64(7)),
	}
}

func TestClientRunPersistsAndQueries(t *testing.T) {
	ctx := context.Background()
	client, base := newTestClient(t)

	req := smallRun(writeDataset(t))
	req.LogPath = filepath.Join(base, "logs", "search.log")
	summary, err := client.Run(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	require.Len(t, summary.BestByGeneration, 3)
	assert.Equal(t, summary.BestByGeneration[2], summary.FinalBestFitness)
	assert.NotEmpty(t, summary.BestPhenotype)
	assert.NotEmpty(t, summary.Top)
	assert.LessOrEqual(t, len(summary.Top), 5)
	assert.Positive(t, summary.Evaluations)
	assert.FileExists(t, filepath.Join(summary.ArtifactsDir, stats.ConfigFile))

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)

	history, err := client.FitnessHistory(ctx, RunQuery{Latest: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, summary.BestByGeneration[:2], history)

	diagnostics, err := client.Diagnostics(ctx, RunQuery{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, diagnostics, 3)
	assert.Equal(t, 0, diagnostics[0].Generation)

	top, err := client.TopIndividuals(ctx, RunQuery{RunID: summary.RunID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, summary.Top[0].Individual.Phenotype, top[0].Individual.Phenotype)

	lineage, err := client.Lineage(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	assert.NotEmpty(t, lineage)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	assert.FileExists(t, filepath.Join(exported.Directory, stats.HistoryFile))

	series, err := client.AnalyzeLog(ctx, AnalyzeRequest{LogPath: req.LogPath})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, series.Iterations)
	assert.Equal(t, summary.BestByGeneration, series.Fitness)

	fromArtifacts, err := client.AnalyzeLog(ctx, AnalyzeRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, series.Phenotypes, fromArtifacts.Phenotypes)
	require.Len(t, fromArtifacts.MutationRate, 2)
	assert.Less(t, fromArtifacts.MutationRate[1], fromArtifacts.MutationRate[0])
	assert.Len(t, fromArtifacts.UniquePhenotypes, 3)

	_, err = client.AnalyzeLog(ctx, AnalyzeRequest{LogPath: req.LogPath, Latest: true})
	require.Error(t, err)
}

func TestClientReadsRunsFromArtifacts(t *testing.T) {
	ctx := context.Background()
	writer, base := newTestClient(t)
	summary, err := writer.Run(ctx, smallRun(writeDataset(t)))
	require.NoError(t, err)

	// a fresh memory store has no record of the run, only the artifacts do.
	reader, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	runs, err := reader.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, summary.FinalBestFitness, runs[0].BestFitness)
	assert.Equal(t, 3, runs[0].MaxTreeDepth)
	assert.Equal(t, summary.UniquePhenotypes, runs[0].UniquePhenotypes)

	history, err := reader.FitnessHistory(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.BestByGeneration, history)

	top, err := reader.TopIndividuals(ctx, RunQuery{RunID: summary.RunID})
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, summary.Top[0].Individual.Phenotype, top[0].Individual.Phenotype)

	diagnostics, err := reader.Diagnostics(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	assert.Len(t, diagnostics, 3)

	lineage, err := reader.Lineage(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	assert.NotEmpty(t, lineage)

	_, err = reader.TopIndividuals(ctx, RunQuery{RunID: "missing"})
	assert.ErrorContains(t, err, "top individuals not found for run id: missing")
}

func TestClientRunIsReproducible(t *testing.T) {
	ctx := context.Background()
	root := writeDataset(t)

	first, _ := newTestClient(t)
	a, err := first.Run(ctx, smallRun(root))
	require.NoError(t, err)

	second, _ := newTestClient(t)
	b, err := second.Run(ctx, smallRun(root))
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.BestByGeneration, b.BestByGeneration)
	assert.Equal(t, a.BestPhenotype, b.BestPhenotype)
}

func TestClientQueryValidation(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	_, err := client.TopIndividuals(ctx, RunQuery{RunID: "a", Latest: true})
	require.EqualError(t, err, "use either run id or latest")

	_, err = client.Diagnostics(ctx, RunQuery{RunID: "a", Limit: -1})
	require.EqualError(t, err, "limit must be >= 0")

	_, err = client.FitnessHistory(ctx, RunQuery{Latest: true})
	require.EqualError(t, err, "no runs available")

	_, err = client.Lineage(ctx, RunQuery{RunID: "missing"})
	require.ErrorContains(t, err, "lineage not found")

	_, err = client.Runs(ctx, RunsRequest{Limit: -1})
	require.Error(t, err)

	_, err = client.Export(ctx, ExportRequest{})
	require.Error(t, err)
}

func TestBuildConfigOverridesDefaults(t *testing.T) {
	cfg, err := BuildConfig(RunRequest{DatasetPath: "data", Population: 20, Workers: 3, RunID: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", cfg.RunID)
	assert.Equal(t, 20, cfg.PopulationSize)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 30, cfg.Generations)

	generated, err := BuildConfig(RunRequest{DatasetPath: "data"})
	require.NoError(t, err)
	assert.Len(t, generated.RunID, 36)

	_, err = BuildConfig(RunRequest{Population: 20})
	require.Error(t, err)
}

func TestBuildConfigAppliesZeroOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "dataset_path: data\nseed: 9\nnum_generations: 5\nmutation_rate: 0.3\ngenetic_difference: 0.2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := BuildConfig(RunRequest{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 0.3, cfg.MutationRate)

	cfg, err = BuildConfig(RunRequest{
		ConfigPath:        path,
		Seed:              ptr(int64(0)),
		Generations:       ptr(0),
		MutationRate:      ptr(0.0),
		GeneticDifference: ptr(0.0),
	})
	require.NoError(t, err)
	assert.Zero(t, cfg.Seed)
	assert.Zero(t, cfg.Generations)
	assert.Zero(t, cfg.MutationRate)
	assert.Zero(t, cfg.GeneticDifference)
}

func TestClientEvaluateFormula(t *testing.T) {
	client, _ := newTestClient(t)
	root := writeDataset(t)

	out, err := client.EvaluateFormula(context.Background(), EvalRequest{Formula: "G[0,2] p0", DatasetPath: root})
	require.NoError(t, err)
	assert.Equal(t, "G[0,2] p0", out.Formula)
	assert.Equal(t, 3, out.ComputationLength)
	assert.Equal(t, 2, out.Depth)
	assert.Equal(t, 1.0, out.TrainAccuracy)
	assert.Equal(t, 1.0, out.TestAccuracy)
	assert.Equal(t, 2, out.PosTrainAccepted)
	assert.Equal(t, 2, out.NegTrainRejected)

	_, err = client.EvaluateFormula(context.Background(), EvalRequest{Formula: "(p0 &", DatasetPath: root})
	require.Error(t, err)
}

func TestClientGrammar(t *testing.T) {
	client, _ := newTestClient(t)

	g, err := client.Grammar(context.Background(), GrammarRequest{DatasetPath: writeDataset(t)})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Propositions())
	assert.Equal(t, 3, g.MaxBound())

	g, err = client.Grammar(context.Background(), GrammarRequest{Propositions: 4, MaxBound: 5})
	require.NoError(t, err)
	assert.Equal(t, 4, g.Propositions())
	assert.Contains(t, g.String(), "p3")
}

func TestClientDescribeDataset(t *testing.T) {
	client, _ := newTestClient(t)
	root := writeDataset(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, datainfo.FormulaFile), []byte("G[0,2] p0\n"), 0o644))

	info, err := client.DescribeDataset(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "G[0,2] p0", info.Formula)
	assert.Equal(t, 2, info.Propositions)
	assert.Equal(t, 3, info.MaxBound)
	require.Len(t, info.Sets, 4)
}
