package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mltlsge/internal/model"
)

const runIndexFile = "run_index.json"

// Files written into every run directory.
const (
	ConfigFile      = "config.json"
	HistoryFile     = "fitness_history.json"
	DiagnosticsFile = "generation_diagnostics.json"
	TopFile         = "top_individuals.json"
	LineageFile     = "lineage.json"
	SeriesFile      = "generation_series.csv"
	LogFile         = "run.log"
)

var runFiles = []string{ConfigFile, HistoryFile, DiagnosticsFile, TopFile, LineageFile, SeriesFile, LogFile}

// RunConfig is the resolved configuration a run executed with.
type RunConfig struct {
	RunID                   string  `json:"run_id"`
	DatasetPath             string  `json:"dataset_path"`
	Seed                    int64   `json:"seed"`
	PopulationSize          int     `json:"population_size"`
	Generations             int     `json:"generations"`
	MaxTreeDepth            int     `json:"max_tree_depth"`
	GenotypeLength          int     `json:"genotype_length"`
	GenotypeMax             int     `json:"genotype_max"`
	Propositions            int     `json:"propositions"`
	MaxBound                int     `json:"max_bound"`
	MutationRate            float64 `json:"mutation_rate"`
	MutationRateDecay       float64 `json:"mutation_rate_decay"`
	GeneticDifference       float64 `json:"genetic_difference"`
	TargetComputationLength int     `json:"target_complen"`
	WeightAccuracy          float64 `json:"weight_accuracy"`
	WeightComplen           float64 `json:"weight_complen"`
	WeightLength            float64 `json:"weight_length"`
	WeightTreeDepth         float64 `json:"weight_treedepth"`
	Workers                 int     `json:"workers"`
	MaxUniqueAttempts       int     `json:"max_unique_attempts"`
	TopK                    int     `json:"top_k"`
	Store                   string  `json:"store"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	UniquePhenotypes      int                           `json:"unique_phenotypes"`
	FinalMutationRate     float64                       `json:"final_mutation_rate"`
	TopIndividuals        []model.TopIndividualRecord   `json:"top_individuals"`
	Lineage               []model.LineageRecord         `json:"lineage"`
}

type FitnessHistory struct {
	BestByGeneration  []float64 `json:"best_by_generation"`
	FinalBestFitness  float64   `json:"final_best_fitness"`
	UniquePhenotypes  int       `json:"unique_phenotypes"`
	FinalMutationRate float64   `json:"final_mutation_rate"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	DatasetPath      string  `json:"dataset_path"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	BestPhenotype    string  `json:"best_phenotype"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, ConfigFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, HistoryFile), FitnessHistory{
		BestByGeneration:  artifacts.BestByGeneration,
		FinalBestFitness:  artifacts.FinalBestFitness,
		UniquePhenotypes:  artifacts.UniquePhenotypes,
		FinalMutationRate: artifacts.FinalMutationRate,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, TopFile), artifacts.TopIndividuals); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, LineageFile), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, DiagnosticsFile), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := WriteGenerationSeries(runDir, artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}

	logFile, err := os.Create(filepath.Join(runDir, LogFile))
	if err != nil {
		return "", err
	}
	defer logFile.Close()
	if err := WriteRunLog(logFile, artifacts.Config, artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	return runDir, logFile.Sync()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// later appends win ties
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's artifacts into outDir/runID.
// config.json and fitness_history.json are required; the rest are copied
// when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runFiles {
		err := copyFile(filepath.Join(src, file), filepath.Join(dst, file))
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrNotExist) && file != ConfigFile && file != HistoryFile {
			continue
		}
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, ConfigFile), &cfg)
	return cfg, ok, err
}

func ReadFitnessHistory(baseDir, runID string) (FitnessHistory, bool, error) {
	var history FitnessHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, HistoryFile), &history)
	return history, ok, err
}

func ReadTopIndividuals(baseDir, runID string) ([]model.TopIndividualRecord, bool, error) {
	var top []model.TopIndividualRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, TopFile), &top)
	return top, ok, err
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, DiagnosticsFile), &diagnostics)
	return diagnostics, ok, err
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	var lineage []model.LineageRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, LineageFile), &lineage)
	return lineage, ok, err
}

var seriesHeader = []string{"generation", "best_fitness", "mean_fitness", "min_fitness", "best_accuracy", "best_test_accuracy", "unique_phenotypes", "mutation_rate"}

// WriteGenerationSeries writes one CSV row per generation for plotting.
func WriteGenerationSeries(runDir string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(filepath.Join(runDir, SeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			formatFloat(d.BestFitness),
			formatFloat(d.MeanFitness),
			formatFloat(d.MinFitness),
			formatFloat(d.BestAccuracy),
			formatFloat(d.BestTestAccuracy),
			strconv.Itoa(d.UniquePhenotypes),
			formatFloat(d.MutationRate),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
