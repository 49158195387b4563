// Package config loads and resolves run parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"mltlsge/internal/dataset"
	"mltlsge/internal/evo"
	"mltlsge/internal/genotype"
	"mltlsge/internal/grammar"
)

// ErrInvalidConfig wraps every configuration failure detected before a run.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Weights are the fitness term weights as they appear in config files.
type Weights struct {
	Accuracy          float64 `json:"accuracy" yaml:"accuracy" validate:"gte=0"`
	ComputationLength float64 `json:"complen" yaml:"complen" validate:"gte=0"`
	Length            float64 `json:"length" yaml:"length" validate:"gte=0"`
	TreeDepth         float64 `json:"treedepth" yaml:"treedepth" validate:"gte=0"`
}

func (w Weights) FitnessWeights() evo.FitnessWeights {
	return evo.FitnessWeights{
		Accuracy:          w.Accuracy,
		ComputationLength: w.ComputationLength,
		Length:            w.Length,
		TreeDepth:         w.TreeDepth,
	}
}

type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind" validate:"omitempty,oneof=memory sqlite badger"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// RunConfig is one search run. Zero TargetComputationLength means the
// shortest training trace length is used.
type RunConfig struct {
	RunID                   string      `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Seed                    int64       `json:"seed" yaml:"seed"`
	DatasetPath             string      `json:"dataset_path" yaml:"dataset_path" validate:"required"`
	PopulationSize          int         `json:"population_size" yaml:"population_size" validate:"gte=10"`
	Generations             int         `json:"num_generations" yaml:"num_generations" validate:"gte=0"`
	MaxTreeDepth            int         `json:"max_tree_depth" yaml:"max_tree_depth" validate:"gte=0,lte=20"`
	MutationRate            float64     `json:"mutation_rate" yaml:"mutation_rate" validate:"gte=0,lte=1"`
	MutationRateDecay       float64     `json:"mutation_rate_decay" yaml:"mutation_rate_decay" validate:"gte=0"`
	GeneticDifference       float64     `json:"genetic_difference" yaml:"genetic_difference" validate:"gte=0,lte=1"`
	Weights                 Weights     `json:"fitness_weights" yaml:"fitness_weights"`
	TargetComputationLength int         `json:"target_complen,omitempty" yaml:"target_complen,omitempty" validate:"gte=0"`
	Workers                 int         `json:"workers" yaml:"workers" validate:"gte=0"`
	MaxUniqueAttempts       int         `json:"max_unique_attempts" yaml:"max_unique_attempts" validate:"gte=0"`
	TopK                    int         `json:"top_k" yaml:"top_k" validate:"gte=0"`
	LogPath                 string      `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	ArtifactsDir            string      `json:"artifacts_dir,omitempty" yaml:"artifacts_dir,omitempty"`
	MetricsAddr             string      `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	Store                   StoreConfig `json:"store" yaml:"store"`
}

func Default() RunConfig {
	return RunConfig{
		PopulationSize:    100,
		Generations:       30,
		MaxTreeDepth:      6,
		MutationRate:      0.2,
		MutationRateDecay: 0.95,
		Weights: Weights{
			Accuracy:          0.8,
			ComputationLength: 0.1,
			Length:            0.05,
			TreeDepth:         0.05,
		},
		Workers:           1,
		MaxUniqueAttempts: evo.DefaultMaxUniqueAttempts,
		TopK:              5,
		Store:             StoreConfig{Kind: "memory"},
	}
}

func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Store.Kind != "" && c.Store.Kind != "memory" && c.Store.Path == "" {
		return fmt.Errorf("%w: store %s requires a path", ErrInvalidConfig, c.Store.Kind)
	}
	return nil
}

// Load reads a YAML (or JSON) document for .yaml, .yml and .json files and
// a legacy key = value parameter file otherwise. Values not in the file
// keep their defaults. Environment overrides are applied last.
func Load(path string) (RunConfig, error) {
	var (
		cfg RunConfig
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		cfg, err = loadYAML(path)
	default:
		cfg, err = LoadParamsFile(path)
	}
	if err != nil {
		return RunConfig{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func loadYAML(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *RunConfig) error {
	if v := os.Getenv("MLTLSGE_DATASET_PATH"); v != "" {
		cfg.DatasetPath = v
	}
	if v := os.Getenv("MLTLSGE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MLTLSGE_SEED: %v", ErrInvalidConfig, err)
		}
		cfg.Seed = seed
	}
	if v := os.Getenv("MLTLSGE_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MLTLSGE_WORKERS: %v", ErrInvalidConfig, err)
		}
		cfg.Workers = workers
	}
	if v := os.Getenv("MLTLSGE_STORE"); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv("MLTLSGE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	return nil
}

// Resolved is a RunConfig bound to a dataset.
type Resolved struct {
	Config       RunConfig
	Params       evo.Params
	Propositions int
	MaxBound     int
}

// Resolve derives the grammar and search parameters from the dataset: the
// proposition count is the trace width, the interval bound is the longest
// training trace, and the complexity target defaults to the shortest one.
func Resolve(cfg RunConfig, split dataset.Split) (Resolved, error) {
	if err := cfg.Validate(); err != nil {
		return Resolved{}, err
	}
	if err := split.Validate(); err != nil {
		return Resolved{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	n := split.PropositionCount()
	maxBound := split.MaxTrainLength()
	g, err := grammar.New(n, maxBound)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	target := cfg.TargetComputationLength
	if target == 0 {
		target = split.MinTrainLength()
	}
	params := evo.Params{
		Grammar:                 g,
		MaxTreeDepth:            cfg.MaxTreeDepth,
		GenotypeLength:          genotype.Length(cfg.MaxTreeDepth),
		GenotypeMax:             genotype.DefaultMaxCodon,
		MutationRate:            cfg.MutationRate,
		MutationRateDecay:       cfg.MutationRateDecay,
		Weights:                 cfg.Weights.FitnessWeights(),
		TargetComputationLength: target,
	}
	if err := params.Validate(); err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Resolved{Config: cfg, Params: params, Propositions: n, MaxBound: maxBound}, nil
}
