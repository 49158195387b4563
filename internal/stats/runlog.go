package stats

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"mltlsge/internal/model"
)

const logSeparator = "=================================================="

var iterationPattern = regexp.MustCompile(`^Iteration (\d+) of \d+$`)

// WriteRunLog renders a run as the plain-text generation log: one block
// per iteration with the best individual, the decayed mutation rate and the
// phenotype table size.
func WriteRunLog(w io.Writer, cfg RunConfig, diagnostics []model.GenerationDiagnostics) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "run_id: %s\n", cfg.RunID)
	fmt.Fprintf(bw, "dataset_path: %s\n", cfg.DatasetPath)
	fmt.Fprintf(bw, "seed: %d\n", cfg.Seed)
	for _, d := range diagnostics {
		fmt.Fprintf(bw, "Iteration %d of %d\n", d.Generation, cfg.Generations)
		if d.Generation == 0 {
			bw.WriteString("Initial population:\n")
			fmt.Fprintf(bw, "Number of unique phenotypes: %d\n", d.UniquePhenotypes)
			bw.WriteString("Best individual:\n")
			writeBest(bw, d)
			bw.WriteString(logSeparator + "\n")
			continue
		}
		bw.WriteString("Selecting parents...\n")
		bw.WriteString("Recombining parents...\n")
		bw.WriteString("Mutating offspring...\n")
		bw.WriteString("Evaluating offspring...\n")
		bw.WriteString("Best individual:\n")
		writeBest(bw, d)
		fmt.Fprintf(bw, "Mutation rate: %s\n", formatFloat(d.MutationRate))
		fmt.Fprintf(bw, "Number of unique phenotypes: %d\n", d.UniquePhenotypes)
		bw.WriteString(logSeparator + "\n")
	}
	return bw.Flush()
}

func writeBest(w io.Writer, d model.GenerationDiagnostics) {
	fmt.Fprintf(w, "Phenotype: %s\n", d.BestPhenotype)
	fmt.Fprintf(w, "Fitness: %s\n", formatFloat(d.BestFitness))
	fmt.Fprintf(w, "Training Accuracy: %s\n", formatFloat(d.BestAccuracy))
	fmt.Fprintf(w, "Computation Length: %d\n", d.BestComputationLength)
	fmt.Fprintf(w, "Tree Depth: %d\n", d.BestTreeDepth)
	fmt.Fprintf(w, "Length: %d\n", d.BestLength)
	fmt.Fprintf(w, "Test Accuracy: %s\n", formatFloat(d.BestTestAccuracy))
}

// LogSeries is the per-iteration data recovered from a run log.
// MutationRate has no entry for the initial population.
type LogSeries struct {
	DatasetPath       string
	Iterations        []int
	Phenotypes        []string
	Fitness           []float64
	TrainingAccuracy  []float64
	TestAccuracy      []float64
	ComputationLength []int
	TreeDepth         []int
	FormulaLength     []int
	UniquePhenotypes  []int
	MutationRate      []float64
}

// ParseRunLog reads a run log back into per-iteration series.
func ParseRunLog(r io.Reader) (LogSeries, error) {
	var s LogSeries
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if m := iterationPattern.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			s.Iterations = append(s.Iterations, n)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		var err error
		switch key {
		case "dataset_path":
			s.DatasetPath = value
		case "Phenotype":
			s.Phenotypes = append(s.Phenotypes, value)
		case "Fitness":
			s.Fitness, err = appendFloat(s.Fitness, value)
		case "Training Accuracy":
			s.TrainingAccuracy, err = appendFloat(s.TrainingAccuracy, value)
		case "Test Accuracy":
			s.TestAccuracy, err = appendFloat(s.TestAccuracy, value)
		case "Computation Length":
			s.ComputationLength, err = appendInt(s.ComputationLength, value)
		case "Tree Depth":
			s.TreeDepth, err = appendInt(s.TreeDepth, value)
		case "Length":
			s.FormulaLength, err = appendInt(s.FormulaLength, value)
		case "Mutation rate":
			s.MutationRate, err = appendFloat(s.MutationRate, value)
		case "Number of unique phenotypes":
			s.UniquePhenotypes, err = appendInt(s.UniquePhenotypes, value)
		}
		if err != nil {
			return LogSeries{}, fmt.Errorf("run log line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return LogSeries{}, err
	}
	return s, nil
}

func appendFloat(dst []float64, value string) ([]float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return dst, err
	}
	return append(dst, v), nil
}

func appendInt(dst []int, value string) ([]int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return dst, err
	}
	return append(dst, v), nil
}
