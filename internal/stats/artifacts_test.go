package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mltlsge/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, BestFitness: 0.5, MeanFitness: 0.2, BestPhenotype: "p0", BestAccuracy: 0.75, BestComputationLength: 1, BestTreeDepth: 1, BestLength: 2, UniquePhenotypes: 10, MutationRate: 0.2},
		{Generation: 1, BestFitness: 0.625, MeanFitness: 0.3, BestPhenotype: "(p0 U[0,4] p1)", BestAccuracy: 1, BestTestAccuracy: 0.5, BestComputationLength: 5, BestTreeDepth: 2, BestLength: 14, UniquePhenotypes: 18, MutationRate: 0.19},
	}
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			DatasetPath:    "dataset/basic",
			PopulationSize: 10,
			Generations:    1,
			Seed:           3,
			Workers:        2,
		},
		BestByGeneration:      []float64{0.5, 0.625},
		GenerationDiagnostics: diagnostics,
		FinalBestFitness:      0.625,
		UniquePhenotypes:      18,
		FinalMutationRate:     0.19,
		TopIndividuals: []model.TopIndividualRecord{{
			Rank:       1,
			Individual: model.IndividualRecord{ID: "g1-i3", Phenotype: "(p0 U[0,4] p1)", Fitness: 0.625},
		}},
		Lineage: []model.LineageRecord{{IndividualID: "g0-i0", Operation: "seed", Phenotype: "p0"}},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-123"))
	require.NoError(t, err)
	for _, file := range runFiles {
		assert.FileExists(t, filepath.Join(runDir, file))
	}

	exported, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	require.NoError(t, err)
	for _, file := range runFiles {
		assert.FileExists(t, filepath.Join(exported, file))
	}

	cfg, ok, err := ReadRunConfig(outDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dataset/basic", cfg.DatasetPath)

	history, ok, err := ReadFitnessHistory(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.625}, history.BestByGeneration)
	assert.Equal(t, 18, history.UniquePhenotypes)

	top, ok, err := ReadTopIndividuals(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, top, 1)
	assert.Equal(t, "g1-i3", top[0].Individual.ID)

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, diagnostics, 2)

	lineage, ok, err := ReadLineage(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, lineage, 1)
	assert.Equal(t, "seed", lineage[0].Operation)
}

func TestExportSkipsOptionalFiles(t *testing.T) {
	baseDir := t.TempDir()
	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-1"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(runDir, LogFile)))

	exported, err := ExportRunArtifacts(baseDir, "run-1", t.TempDir())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(exported, LogFile))

	require.NoError(t, os.Remove(filepath.Join(runDir, ConfigFile)))
	_, err = ExportRunArtifacts(baseDir, "run-1", t.TempDir())
	require.Error(t, err)
}

func TestExportRequiresRun(t *testing.T) {
	_, err := ExportRunArtifacts(t.TempDir(), "", t.TempDir())
	require.Error(t, err)
	_, err = ExportRunArtifacts(t.TempDir(), "missing", t.TempDir())
	require.Error(t, err)
}

func TestReadMissingArtifacts(t *testing.T) {
	_, ok, err := ReadRunConfig(t.TempDir(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ReadLineage(t.TempDir(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunIndexOrderingAndReplace(t *testing.T) {
	baseDir := t.TempDir()

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "b", CreatedAtUTC: "2026-01-03T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "c", CreatedAtUTC: "2026-01-01T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalBestFitness: 0.9}))
	require.Error(t, AppendRunIndex(baseDir, RunIndexEntry{}))

	entries, err = ListRunIndex(baseDir)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range entries {
		ids = append(ids, e.RunID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
	assert.Equal(t, 0.9, entries[2].FinalBestFitness)
}

func TestRunLogRoundTrip(t *testing.T) {
	art := sampleArtifacts("run-log")
	var buf bytes.Buffer
	require.NoError(t, WriteRunLog(&buf, art.Config, art.GenerationDiagnostics))

	text := buf.String()
	assert.Contains(t, text, "Iteration 0 of 1\nInitial population:\n")
	assert.Contains(t, text, "Iteration 1 of 1\nSelecting parents...\n")
	assert.Contains(t, text, "Mutation rate: 0.19\n")

	series, err := ParseRunLog(&buf)
	require.NoError(t, err)
	assert.Equal(t, "dataset/basic", series.DatasetPath)
	assert.Equal(t, []int{0, 1}, series.Iterations)
	assert.Equal(t, []string{"p0", "(p0 U[0,4] p1)"}, series.Phenotypes)
	assert.Equal(t, []float64{0.5, 0.625}, series.Fitness)
	assert.Equal(t, []float64{0.75, 1}, series.TrainingAccuracy)
	assert.Equal(t, []float64{0, 0.5}, series.TestAccuracy)
	assert.Equal(t, []int{1, 5}, series.ComputationLength)
	assert.Equal(t, []int{1, 2}, series.TreeDepth)
	assert.Equal(t, []int{2, 14}, series.FormulaLength)
	assert.Equal(t, []int{10, 18}, series.UniquePhenotypes)
	assert.Equal(t, []float64{0.19}, series.MutationRate)
}

func TestParseRunLogRejectsBadNumbers(t *testing.T) {
	_, err := ParseRunLog(bytes.NewBufferString("Iteration 0 of 1\nFitness: high\n"))
	require.Error(t, err)
}
