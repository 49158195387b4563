package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mltlsge/internal/storage"
	"mltlsge/pkg/mltlsge"
)

const (
	defaultDBPath       = "mltlsge.db"
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
)

type globalOptions struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logLevel     string
	logFormat    string
	stderr       io.Writer
}

func (g *globalOptions) clientOptions() (mltlsge.Options, error) {
	logger, err := newLogger(g.stderr, g.logFormat, g.logLevel)
	if err != nil {
		return mltlsge.Options{}, err
	}
	return mltlsge.Options{
		StoreKind:    g.storeKind,
		DBPath:       g.dbPath,
		ArtifactsDir: g.artifactsDir,
		ExportsDir:   g.exportsDir,
		Logger:       logger,
	}, nil
}

func (g *globalOptions) client() (*mltlsge.Client, error) {
	opts, err := g.clientOptions()
	if err != nil {
		return nil, err
	}
	return mltlsge.New(opts)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{stderr: stderr}
	root := &cobra.Command{
		Use:           "mltlsgectl",
		Short:         "Learn MLTL formulas that separate labeled traces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.storeKind, "store", storage.KindSQLite, "store backend: memory|sqlite|badger")
	pf.StringVar(&g.dbPath, "db-path", defaultDBPath, "sqlite file or badger directory")
	pf.StringVar(&g.artifactsDir, "artifacts-dir", defaultArtifactsDir, "run artifacts directory")
	pf.StringVar(&g.exportsDir, "exports-dir", defaultExportsDir, "default export directory")
	pf.StringVar(&g.logLevel, "log-level", "info", "debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "auto", "auto|text|json")

	root.AddCommand(
		newRunCmd(g),
		newRunsCmd(g),
		newTopCmd(g),
		newDiagnosticsCmd(g),
		newFitnessCmd(g),
		newLineageCmd(g),
		newExportCmd(g),
		newAnalyzeCmd(g),
		newEvalCmd(g),
		newGrammarCmd(g),
		newDatasetCmd(g),
	)
	return root
}

func newRunCmd(g *globalOptions) *cobra.Command {
	var (
		req         mltlsge.RunRequest
		metricsAddr string
		jsonOut     bool

		generations, depth      int
		seed                    int64
		rate, decay, difference float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one search and persist its results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// only flags the user set override the config file.
			flags := cmd.Flags()
			if flags.Changed("gens") {
				req.Generations = &generations
			}
			if flags.Changed("depth") {
				req.MaxTreeDepth = &depth
			}
			if flags.Changed("seed") {
				req.Seed = &seed
			}
			if flags.Changed("mutation-rate") {
				req.MutationRate = &rate
			}
			if flags.Changed("mutation-decay") {
				req.MutationRateDecay = &decay
			}
			if flags.Changed("genetic-difference") {
				req.GeneticDifference = &difference
			}
			cfg, err := mltlsge.BuildConfig(req)
			if err != nil {
				return err
			}
			req.RunID = cfg.RunID

			opts, err := g.clientOptions()
			if err != nil {
				return err
			}
			if req.ConfigPath != "" {
				if !cmd.Flags().Changed("store") && cfg.Store.Kind != "" {
					opts.StoreKind = cfg.Store.Kind
					opts.DBPath = cfg.Store.Path
				}
				if !cmd.Flags().Changed("artifacts-dir") && cfg.ArtifactsDir != "" {
					opts.ArtifactsDir = cfg.ArtifactsDir
				}
			}
			opts.MetricsAddr = cfg.MetricsAddr
			if metricsAddr != "" {
				opts.MetricsAddr = metricsAddr
			}

			client, err := mltlsge.New(opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summary)
			}
			for gen, best := range summary.BestByGeneration {
				fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", gen, best)
			}
			fmt.Fprintf(out, "run_id=%s final_best_fitness=%.6f best=%q unique_phenotypes=%s evaluations=%s duration=%s artifacts=%s\n",
				summary.RunID,
				summary.FinalBestFitness,
				summary.BestPhenotype,
				humanize.Comma(int64(summary.UniquePhenotypes)),
				humanize.Comma(int64(summary.Evaluations)),
				summary.Duration.Round(time.Millisecond),
				summary.ArtifactsDir,
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ConfigPath, "config", "", "run config file (.yaml, .json or key = value)")
	f.StringVar(&req.DatasetPath, "dataset", "", "dataset root with pos_train, neg_train, pos_test and neg_test")
	f.StringVar(&req.RunID, "run-id", "", "run id (default: random uuid)")
	f.IntVar(&req.Population, "pop", 0, "population size")
	f.IntVar(&generations, "gens", 0, "generations")
	f.IntVar(&depth, "depth", 0, "max derivation tree depth")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.Float64Var(&rate, "mutation-rate", 0, "initial per-codon mutation rate")
	f.Float64Var(&decay, "mutation-decay", 0, "mutation rate multiplier per generation")
	f.Float64Var(&difference, "genetic-difference", 0, "diversity weight in parent ranking")
	f.IntVar(&req.TargetComputationLength, "target-complen", 0, "preferred computation length (default: shortest training trace)")
	f.IntVar(&req.Workers, "workers", 0, "evaluation workers")
	f.IntVar(&req.MaxUniqueAttempts, "max-unique-attempts", 0, "mutation retries per offspring")
	f.IntVar(&req.TopK, "top-k", 0, "individuals kept in the top list")
	f.StringVar(&req.LogPath, "log-path", "", "append an iteration log to this file")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	f.BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	return cmd
}

func newRunsCmd(g *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runs, err := client.Runs(cmd.Context(), mltlsge.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "run_id=%s created=%q status=%s seed=%d pop=%d gens=%d best_fitness=%.6f test_accuracy=%.4f best=%q\n",
					r.ID,
					createdAt(r.CreatedAtUTC),
					r.Status,
					r.Seed,
					r.PopulationSize,
					r.Generations,
					r.BestFitness,
					r.BestTestAccuracy,
					r.BestPhenotype,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

type queryFlags struct {
	runID   string
	latest  bool
	limit   int
	jsonOut bool
}

func (q *queryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&q.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&q.latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&q.limit, "limit", defaultLimit, "max rows to print (0 for all)")
	cmd.Flags().BoolVar(&q.jsonOut, "json", false, "emit JSON")
}

func (q *queryFlags) query(name string) (mltlsge.RunQuery, error) {
	if q.runID != "" && q.latest {
		return mltlsge.RunQuery{}, errors.New("use either --run-id or --latest, not both")
	}
	if q.runID == "" && !q.latest {
		return mltlsge.RunQuery{}, fmt.Errorf("%s requires --run-id or --latest", name)
	}
	return mltlsge.RunQuery{RunID: q.runID, Latest: q.latest, Limit: q.limit}, nil
}

// queryCmd builds a read-only command over one stored run.
func queryCmd(g *globalOptions, use, short string, defaultLimit int, show func(cmd *cobra.Command, client *mltlsge.Client, req mltlsge.RunQuery, jsonOut bool) error) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := q.query(use)
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			return show(cmd, client, req, q.jsonOut)
		},
	}
	q.register(cmd, defaultLimit)
	return cmd
}

func newTopCmd(g *globalOptions) *cobra.Command {
	return queryCmd(g, "top", "Show the best formulas of a run", 5, func(cmd *cobra.Command, client *mltlsge.Client, req mltlsge.RunQuery, jsonOut bool) error {
		top, err := client.TopIndividuals(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return writeJSON(out, top)
		}
		for _, item := range top {
			ind := item.Individual
			fmt.Fprintf(out, "rank=%d fitness=%.6f accuracy=%.4f test_accuracy=%.4f complen=%d depth=%d length=%d formula=%q\n",
				item.Rank,
				ind.Fitness,
				ind.Accuracy,
				ind.TestAccuracy,
				ind.ComputationLength,
				ind.TreeDepth,
				ind.Length,
				ind.Phenotype,
			)
		}
		return nil
	})
}

func newDiagnosticsCmd(g *globalOptions) *cobra.Command {
	return queryCmd(g, "diagnostics", "Show per-generation statistics of a run", 0, func(cmd *cobra.Command, client *mltlsge.Client, req mltlsge.RunQuery, jsonOut bool) error {
		diagnostics, err := client.Diagnostics(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return writeJSON(out, diagnostics)
		}
		for _, d := range diagnostics {
			fmt.Fprintf(out, "generation=%d best=%.6f mean=%.6f min=%.6f mean_accuracy=%.4f unique=%d mutation_rate=%.6f attempts=%d evaluations=%s\n",
				d.Generation,
				d.BestFitness,
				d.MeanFitness,
				d.MinFitness,
				d.MeanAccuracy,
				d.UniquePhenotypes,
				d.MutationRate,
				d.MutationAttempts,
				humanize.Comma(int64(d.Evaluations)),
			)
		}
		return nil
	})
}

func newFitnessCmd(g *globalOptions) *cobra.Command {
	return queryCmd(g, "fitness", "Show the best fitness per generation", 0, func(cmd *cobra.Command, client *mltlsge.Client, req mltlsge.RunQuery, jsonOut bool) error {
		history, err := client.FitnessHistory(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return writeJSON(out, history)
		}
		for gen, best := range history {
			fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", gen, best)
		}
		return nil
	})
}

func newLineageCmd(g *globalOptions) *cobra.Command {
	return queryCmd(g, "lineage", "Show how individuals were produced", 50, func(cmd *cobra.Command, client *mltlsge.Client, req mltlsge.RunQuery, jsonOut bool) error {
		lineage, err := client.Lineage(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return writeJSON(out, lineage)
		}
		for _, rec := range lineage {
			parents := "-"
			if len(rec.ParentIDs) > 0 {
				parents = strings.Join(rec.ParentIDs, ",")
			}
			fmt.Fprintf(out, "id=%s generation=%d op=%s parents=%s attempts=%d formula=%q\n",
				rec.IndividualID,
				rec.Generation,
				rec.Operation,
				parents,
				rec.MutationAttempts,
				rec.Phenotype,
			)
		}
		return nil
	})
}

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	var (
		runID   string
		latest  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [log]",
		Short: "Summarize a run log per iteration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := mltlsge.AnalyzeRequest{RunID: runID, Latest: latest}
			if len(args) == 1 {
				req.LogPath = args[0]
			}
			if req.LogPath != "" && (runID != "" || latest) {
				return errors.New("use either a log path or --run-id/--latest")
			}
			if runID != "" && latest {
				return errors.New("use either --run-id or --latest, not both")
			}
			if req.LogPath == "" && runID == "" && !latest {
				return errors.New("analyze requires a log path, --run-id or --latest")
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			series, err := client.AnalyzeLog(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, series)
			}
			rates := series.MutationRate
			for i, iteration := range series.Iterations {
				if i >= len(series.Fitness) || i >= len(series.UniquePhenotypes) || i >= len(series.Phenotypes) {
					break
				}
				rate := "-"
				if iteration > 0 && len(rates) > 0 {
					rate = strconv.FormatFloat(rates[0], 'f', 6, 64)
					rates = rates[1:]
				}
				fmt.Fprintf(out, "iteration=%d best_fitness=%.6f unique_phenotypes=%d mutation_rate=%s formula=%q\n",
					iteration,
					series.Fitness[i],
					series.UniquePhenotypes[i],
					rate,
					series.Phenotypes[i],
				)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "analyze the run.log stored with this run")
	f.BoolVar(&latest, "latest", false, "analyze the most recent run")
	f.BoolVar(&jsonOut, "json", false, "emit the parsed series as JSON")
	return cmd
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to another directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID != "" && latest {
				return errors.New("use either --run-id or --latest, not both")
			}
			if runID == "" && !latest {
				return errors.New("export requires --run-id or --latest")
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			exported, err := client.Export(cmd.Context(), mltlsge.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "export output directory (default: --exports-dir)")
	return cmd
}

func newEvalCmd(g *globalOptions) *cobra.Command {
	var (
		datasetPath string
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "eval <formula>",
		Short: "Score a formula against a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if datasetPath == "" {
				return errors.New("eval requires --dataset")
			}
			client, err := mltlsge.New(mltlsge.Options{StoreKind: storage.KindMemory, Logger: slog.New(slog.DiscardHandler)})
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.EvaluateFormula(cmd.Context(), mltlsge.EvalRequest{Formula: args[0], DatasetPath: datasetPath})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "formula=%q complen=%d depth=%d train_accuracy=%.4f test_accuracy=%.4f pos_train_accepted=%d neg_train_rejected=%d pos_test_accepted=%d neg_test_rejected=%d\n",
				summary.Formula,
				summary.ComputationLength,
				summary.Depth,
				summary.TrainAccuracy,
				summary.TestAccuracy,
				summary.PosTrainAccepted,
				summary.NegTrainRejected,
				summary.PosTestAccepted,
				summary.NegTestRejected,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "dataset root")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the score as JSON")
	return cmd
}

func newGrammarCmd(g *globalOptions) *cobra.Command {
	var req mltlsge.GrammarRequest
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "Print the grammar for a dataset or explicit dimensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.DatasetPath == "" && req.Propositions <= 0 {
				return errors.New("grammar requires --dataset or --propositions")
			}
			client, err := mltlsge.New(mltlsge.Options{StoreKind: storage.KindMemory, Logger: slog.New(slog.DiscardHandler)})
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			gr, err := client.Grammar(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), gr.String())
			return err
		},
	}
	cmd.Flags().StringVar(&req.DatasetPath, "dataset", "", "dataset root; sizes the grammar from its traces")
	cmd.Flags().IntVar(&req.Propositions, "propositions", 0, "proposition count when no dataset is given")
	cmd.Flags().IntVar(&req.MaxBound, "max-bound", 1, "temporal interval bound when no dataset is given")
	return cmd
}

func newDatasetCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect trace datasets",
	}
	cmd.AddCommand(newDatasetInfoCmd(g))
	return cmd
}

func newDatasetInfoCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "info <dir>",
		Short: "Summarize a dataset directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := mltlsge.New(mltlsge.Options{StoreKind: storage.KindMemory, Logger: slog.New(slog.DiscardHandler)})
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			info, err := client.DescribeDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "dataset=%s n=%d max_bound=%d min_train_length=%d avg_trace_length=%.2f\n",
				info.Path, info.Propositions, info.MaxBound, info.MinTrainLen, info.AverageLength)
			if info.Formula != "" {
				fmt.Fprintf(out, "formula=%q size=%d complen=%d\n", info.Formula, info.FormulaSize, info.Complen)
			}
			for _, set := range info.Sets {
				fmt.Fprintf(out, "set=%s traces=%d avg_length=%.2f\n", set.Name, set.Traces, set.AverageLength)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func createdAt(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return humanize.Time(t)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
