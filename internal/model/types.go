package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one evolution run.
type RunRecord struct {
	VersionedRecord
	ID                string  `json:"id"`
	CreatedAtUTC      string  `json:"created_at_utc"`
	DatasetPath       string  `json:"dataset_path"`
	Seed              int64   `json:"seed"`
	PopulationSize    int     `json:"population_size"`
	Generations       int     `json:"generations"`
	MaxTreeDepth      int     `json:"max_tree_depth"`
	Propositions      int     `json:"propositions"`
	MaxBound          int     `json:"max_bound"`
	BestFitness       float64 `json:"best_fitness"`
	BestPhenotype     string  `json:"best_phenotype"`
	BestAccuracy      float64 `json:"best_accuracy"`
	BestTestAccuracy  float64 `json:"best_test_accuracy"`
	UniquePhenotypes  int     `json:"unique_phenotypes"`
	FinalMutationRate float64 `json:"final_mutation_rate"`
	Evaluations       int     `json:"evaluations"`
	DurationMillis    int64   `json:"duration_ms"`
	Status            string  `json:"status"`
}

// IndividualRecord is the persisted form of an evaluated formula and the
// codons that produced it.
type IndividualRecord struct {
	ID                string           `json:"id"`
	Phenotype         string           `json:"phenotype"`
	Fitness           float64          `json:"fitness"`
	Accuracy          float64          `json:"accuracy"`
	TestAccuracy      float64          `json:"test_accuracy"`
	ComputationLength int              `json:"computation_length"`
	TreeDepth         int              `json:"tree_depth"`
	Length            int              `json:"length"`
	DerivationDepth   int              `json:"derivation_depth"`
	MutationRate      float64          `json:"mutation_rate"`
	Codons            map[string][]int `json:"codons"`
	Used              map[string]int   `json:"used"`
}

// TopIndividualRecord ranks an individual within a run, 1 being best.
type TopIndividualRecord struct {
	VersionedRecord
	Rank       int              `json:"rank"`
	Individual IndividualRecord `json:"individual"`
}

// PopulationRecord is the final population of a run.
type PopulationRecord struct {
	VersionedRecord
	RunID       string             `json:"run_id"`
	Generation  int                `json:"generation"`
	Individuals []IndividualRecord `json:"individuals"`
}

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
	VersionedRecord
	IndividualID     string   `json:"individual_id"`
	ParentIDs        []string `json:"parent_ids,omitempty"`
	Generation       int      `json:"generation"`
	Operation        string   `json:"operation"`
	Phenotype        string   `json:"phenotype"`
	CrossoverPoints  []int    `json:"crossover_points,omitempty"`
	MutationAttempts int      `json:"mutation_attempts,omitempty"`
}
