package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mltlsge/internal/dataset"
	"mltlsge/internal/grammar"
)

const legacyParams = `# search parameters
seed = 7
dataset_path = ./dataset/basic/global/
population_size = 50
num_generations = 12
max_tree_depth = 4
mutation_rate = 0.25
mutation_rate_decay = 0.9
genetic_difference = 0
temporal_nesting = 2

accuracy = 0.7
treedepth = 0.1
complen = 0.1
length = 0.1
log_path = run.log
print_individuals = False
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParamsFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "params.txt", legacyParams))
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, "./dataset/basic/global/", cfg.DatasetPath)
	assert.Equal(t, 50, cfg.PopulationSize)
	assert.Equal(t, 12, cfg.Generations)
	assert.Equal(t, 4, cfg.MaxTreeDepth)
	assert.Equal(t, 0.25, cfg.MutationRate)
	assert.Equal(t, 0.9, cfg.MutationRateDecay)
	assert.Equal(t, Weights{Accuracy: 0.7, ComputationLength: 0.1, Length: 0.1, TreeDepth: 0.1}, cfg.Weights)
	assert.Equal(t, "run.log", cfg.LogPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadParamsFileChecksTemporalNesting(t *testing.T) {
	body := strings.Replace(legacyParams, "temporal_nesting = 2", "temporal_nesting = deep", 1)
	_, err := Load(writeFile(t, "params.txt", body))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "temporal_nesting")
}

func TestLoadParamsFileRequiresEssentialKeys(t *testing.T) {
	_, err := Load(writeFile(t, "params.txt", "seed = 1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "params.txt", "seed 1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "params.txt", "seed = x\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "run.yaml", `
dataset_path: data
population_size: 40
fitness_weights:
  accuracy: 1
store:
  kind: sqlite
  path: runs.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DatasetPath)
	assert.Equal(t, 40, cfg.PopulationSize)
	assert.Equal(t, 1.0, cfg.Weights.Accuracy)
	assert.Equal(t, 0.05, cfg.Weights.Length)
	assert.Equal(t, 30, cfg.Generations)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MLTLSGE_SEED", "99")
	t.Setenv("MLTLSGE_WORKERS", "3")
	t.Setenv("MLTLSGE_DATASET_PATH", "elsewhere")
	cfg, err := Load(writeFile(t, "run.yml", "dataset_path: data\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "elsewhere", cfg.DatasetPath)

	t.Setenv("MLTLSGE_SEED", "nope")
	_, err = Load(writeFile(t, "run.yml", "dataset_path: data\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DatasetPath = "data"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.PopulationSize = 9
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.MutationRate = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Weights.Length = -0.1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Store = StoreConfig{Kind: "postgres", Path: "x"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Store = StoreConfig{Kind: "badger"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.DatasetPath = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestResolve(t *testing.T) {
	split := dataset.Split{
		PosTrain: []dataset.Trace{{"100", "010", "001", "000"}},
		NegTrain: []dataset.Trace{{"000", "000"}},
		PosTest:  []dataset.Trace{{"100"}},
		NegTest:  []dataset.Trace{{"000"}},
	}
	cfg := Default()
	cfg.DatasetPath = "data"
	cfg.MaxTreeDepth = 3

	resolved, err := Resolve(cfg, split)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.Propositions)
	assert.Equal(t, 4, resolved.MaxBound)
	assert.Equal(t, 3, resolved.Params.Grammar.Propositions())
	assert.Equal(t, 3, resolved.Params.Grammar.MaxTemporalBound())
	assert.Equal(t, 10, resolved.Params.Grammar.Choices(grammar.Interval))
	assert.Equal(t, 16, resolved.Params.GenotypeLength)
	assert.Equal(t, 2, resolved.Params.TargetComputationLength)

	cfg.TargetComputationLength = 5
	resolved, err = Resolve(cfg, split)
	require.NoError(t, err)
	assert.Equal(t, 5, resolved.Params.TargetComputationLength)

	split.NegTest = nil
	_, err = Resolve(cfg, split)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, dataset.ErrEmptySet)
}
