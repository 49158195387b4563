package evo

import (
	"errors"
	"fmt"
	"math"

	"mltlsge/internal/genotype"
	"mltlsge/internal/grammar"
)

var (
	// ErrInvalidPhenotype means derivation produced a formula the parser
	// rejects. It indicates a bug in the grammar or derivation and is fatal.
	ErrInvalidPhenotype = errors.New("derived phenotype does not parse")
	// ErrPhenotypeSpaceExhausted means no new unique phenotype was found
	// within the attempt budget.
	ErrPhenotypeSpaceExhausted = errors.New("no unique phenotype within attempt budget")
)

// DefaultMaxUniqueAttempts bounds mutate-until-unique and initial sampling.
const DefaultMaxUniqueAttempts = 10_000

// Evaluator decides whether a formula holds on a trace. Implementations
// must be deterministic and safe for concurrent use.
type Evaluator interface {
	Evaluate(formula string, trace []string) (bool, error)
}

// FitnessWeights scale the four fitness terms.
type FitnessWeights struct {
	Accuracy          float64 `json:"accuracy" yaml:"accuracy"`
	ComputationLength float64 `json:"complen" yaml:"complen"`
	Length            float64 `json:"length" yaml:"length"`
	TreeDepth         float64 `json:"treedepth" yaml:"treedepth"`
}

// Params is what every Individual needs to derive, mutate and score itself.
// It is shared read-only across the population.
type Params struct {
	Grammar                 *grammar.Grammar
	MaxTreeDepth            int
	GenotypeLength          int
	GenotypeMax             int
	MutationRate            float64
	MutationRateDecay       float64
	Weights                 FitnessWeights
	TargetComputationLength int
}

func (p Params) Validate() error {
	if p.Grammar == nil {
		return fmt.Errorf("grammar is required")
	}
	if p.MaxTreeDepth < 0 {
		return fmt.Errorf("max tree depth must be >= 0")
	}
	if p.GenotypeLength < genotype.Length(p.MaxTreeDepth) {
		return fmt.Errorf("genotype length must be >= %d for max tree depth %d", genotype.Length(p.MaxTreeDepth), p.MaxTreeDepth)
	}
	if p.GenotypeMax < 1 {
		return fmt.Errorf("genotype max must be >= 1")
	}
	if p.MutationRate < 0 || p.MutationRate > 1 || math.IsNaN(p.MutationRate) {
		return fmt.Errorf("mutation rate must be in [0, 1]")
	}
	if p.MutationRateDecay < 0 || math.IsNaN(p.MutationRateDecay) {
		return fmt.Errorf("mutation rate decay must be >= 0")
	}
	w := p.Weights
	for name, v := range map[string]float64{
		"accuracy":  w.Accuracy,
		"complen":   w.ComputationLength,
		"length":    w.Length,
		"treedepth": w.TreeDepth,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("fitness weight %s must be >= 0", name)
		}
	}
	if p.TargetComputationLength < 1 {
		return fmt.Errorf("target computation length must be >= 1")
	}
	return nil
}
