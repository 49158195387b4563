package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var essentialKeys = []string{
	"seed",
	"dataset_path",
	"population_size",
	"num_generations",
	"max_tree_depth",
	"mutation_rate",
	"mutation_rate_decay",
	"genetic_difference",
	"temporal_nesting",
	"accuracy",
	"treedepth",
	"complen",
	"length",
}

// LoadParamsFile reads a key = value parameter file. Lines starting with #
// and blank lines are skipped, unknown keys are ignored, and every
// essential key must be present.
func LoadParamsFile(path string) (RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("open params %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	seen := make(map[string]bool, len(essentialKeys))
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return RunConfig{}, fmt.Errorf("%w: %s:%d: expected key = value", ErrInvalidConfig, path, line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := setParam(&cfg, key, value); err != nil {
			return RunConfig{}, fmt.Errorf("%w: %s:%d: %s: %v", ErrInvalidConfig, path, line, key, err)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return RunConfig{}, fmt.Errorf("read params %s: %w", path, err)
	}
	for _, key := range essentialKeys {
		if !seen[key] {
			return RunConfig{}, fmt.Errorf("%w: missing essential parameter: %s", ErrInvalidConfig, key)
		}
	}
	return cfg, nil
}

func setParam(cfg *RunConfig, key, value string) error {
	var err error
	switch key {
	case "seed":
		cfg.Seed, err = strconv.ParseInt(value, 10, 64)
	case "dataset_path":
		cfg.DatasetPath = value
	case "population_size":
		cfg.PopulationSize, err = strconv.Atoi(value)
	case "num_generations":
		cfg.Generations, err = strconv.Atoi(value)
	case "max_tree_depth":
		cfg.MaxTreeDepth, err = strconv.Atoi(value)
	case "temporal_nesting":
		// required in params files but has no effect on the search.
		_, err = strconv.Atoi(value)
	case "mutation_rate":
		cfg.MutationRate, err = strconv.ParseFloat(value, 64)
	case "mutation_rate_decay":
		cfg.MutationRateDecay, err = strconv.ParseFloat(value, 64)
	case "genetic_difference":
		cfg.GeneticDifference, err = strconv.ParseFloat(value, 64)
	case "accuracy":
		cfg.Weights.Accuracy, err = strconv.ParseFloat(value, 64)
	case "treedepth":
		cfg.Weights.TreeDepth, err = strconv.ParseFloat(value, 64)
	case "complen":
		cfg.Weights.ComputationLength, err = strconv.ParseFloat(value, 64)
	case "length":
		cfg.Weights.Length, err = strconv.ParseFloat(value, 64)
	case "target_complen":
		cfg.TargetComputationLength, err = strconv.Atoi(value)
	case "workers":
		cfg.Workers, err = strconv.Atoi(value)
	case "log_path":
		cfg.LogPath = value
	}
	return err
}
