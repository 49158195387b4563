package evo

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"mltlsge/internal/dataset"
	"mltlsge/internal/derivation"
	"mltlsge/internal/genotype"
	"mltlsge/internal/mltl"
)

// Individual is one candidate formula: a genotype, the derivation it maps
// to, and the metrics from its latest evaluation.
type Individual struct {
	id           string
	params       *Params
	genotype     *genotype.Genotype
	tree         *derivation.Tree
	formula      *mltl.Formula
	phenotype    string
	mutationRate float64

	evaluated         bool
	accuracy          float64
	testAccuracy      float64
	computationLength int
	treeDepth         int
	fitness           float64
}

// NewIndividual derives an individual from gt, or from a fresh random
// genotype when gt is nil.
func NewIndividual(params *Params, rng *rand.Rand, gt *genotype.Genotype) (*Individual, error) {
	if params == nil {
		return nil, fmt.Errorf("params are required")
	}
	if gt == nil {
		if rng == nil {
			return nil, fmt.Errorf("random source is required")
		}
		gt = genotype.Random(rng, params.GenotypeLength, params.GenotypeMax)
	}
	ind := &Individual{
		params:       params,
		genotype:     gt,
		mutationRate: params.MutationRate,
	}
	if err := ind.derive(); err != nil {
		return nil, err
	}
	return ind, nil
}

func (ind *Individual) derive() error {
	tree, err := derivation.Derive(ind.params.Grammar, ind.genotype, ind.params.MaxTreeDepth)
	if err != nil {
		return err
	}
	phenotype := tree.Phenotype()
	formula, err := mltl.Parse(phenotype)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPhenotype, phenotype, err)
	}
	ind.tree = tree
	ind.phenotype = phenotype
	ind.formula = formula
	ind.reset()
	return nil
}

func (ind *Individual) reset() {
	ind.evaluated = false
	ind.accuracy = 0
	ind.testAccuracy = 0
	ind.computationLength = 0
	ind.treeDepth = 0
	ind.fitness = 0
}

// Evaluate scores the individual on the training sets and then runs Test.
// Evaluator errors abort the evaluation and leave the individual unscored.
func (ind *Individual) Evaluate(ctx context.Context, eval Evaluator, split dataset.Split) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	accuracy, err := ind.score(eval, split.PosTrain, split.NegTrain)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	testAccuracy, err := ind.score(eval, split.PosTest, split.NegTest)
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}

	ind.accuracy = accuracy
	ind.computationLength = ind.formula.ComputationLength()
	ind.treeDepth = ind.formula.Depth()
	ind.fitness = ind.computeFitness()
	ind.testAccuracy = testAccuracy
	ind.evaluated = true
	return nil
}

// Test recomputes held-out accuracy only. It never touches fitness.
func (ind *Individual) Test(eval Evaluator, split dataset.Split) (float64, error) {
	acc, err := ind.score(eval, split.PosTest, split.NegTest)
	if err != nil {
		return 0, err
	}
	ind.testAccuracy = acc
	return acc, nil
}

func (ind *Individual) score(eval Evaluator, pos, neg []dataset.Trace) (float64, error) {
	total := len(pos) + len(neg)
	if total == 0 {
		return 0, dataset.ErrEmptySet
	}
	correct := 0
	for i, trace := range pos {
		ok, err := eval.Evaluate(ind.phenotype, trace)
		if err != nil {
			return 0, fmt.Errorf("positive trace %d: %w", i, err)
		}
		if ok {
			correct++
		}
	}
	for i, trace := range neg {
		ok, err := eval.Evaluate(ind.phenotype, trace)
		if err != nil {
			return 0, fmt.Errorf("negative trace %d: %w", i, err)
		}
		if !ok {
			correct++
		}
	}
	return float64(correct) / float64(total), nil
}

func (ind *Individual) computeFitness() float64 {
	w := ind.params.Weights
	target := float64(ind.params.TargetComputationLength)
	closeness := 1 - math.Abs(float64(ind.computationLength)-target)/target
	return w.Accuracy*ind.accuracy +
		w.ComputationLength*closeness +
		w.Length/float64(len(ind.phenotype)+1) +
		w.TreeDepth/float64(ind.treeDepth+1)
}

// Mutate resamples codons at the individual's mutation rate and re-derives.
// Metrics are cleared until the next Evaluate.
func (ind *Individual) Mutate(rng *rand.Rand) error {
	ind.genotype.Mutate(rng, ind.mutationRate, ind.params.GenotypeMax)
	return ind.derive()
}

// Copy returns an independent individual with a deep-copied genotype. The
// copy is re-derived and unevaluated.
func (ind *Individual) Copy() (*Individual, error) {
	out, err := NewIndividual(ind.params, nil, ind.genotype.Clone())
	if err != nil {
		return nil, err
	}
	out.mutationRate = ind.mutationRate
	return out, nil
}

func (ind *Individual) ID() string { return ind.id }

// Genotype returns a deep copy of the genotype.
func (ind *Individual) Genotype() *genotype.Genotype { return ind.genotype.Clone() }

func (ind *Individual) Phenotype() string { return ind.phenotype }

func (ind *Individual) Formula() *mltl.Formula { return ind.formula }

// DerivationDepth is the depth of the derivation tree, root at 0. It never
// exceeds the configured max tree depth.
func (ind *Individual) DerivationDepth() int { return ind.tree.Depth() }

func (ind *Individual) Evaluated() bool { return ind.evaluated }

func (ind *Individual) Fitness() float64 { return ind.fitness }

func (ind *Individual) Accuracy() float64 { return ind.accuracy }

func (ind *Individual) TestAccuracy() float64 { return ind.testAccuracy }

func (ind *Individual) ComputationLength() int { return ind.computationLength }

// TreeDepth is the formula nesting depth with atoms at 1.
func (ind *Individual) TreeDepth() int { return ind.treeDepth }

// Length is the phenotype length in characters.
func (ind *Individual) Length() int { return len(ind.phenotype) }

func (ind *Individual) MutationRate() float64 { return ind.mutationRate }

func (ind *Individual) SetMutationRate(rate float64) { ind.mutationRate = rate }

func (ind *Individual) String() string {
	return fmt.Sprintf("Phenotype: %s\nFitness: %v\nTraining Accuracy: %v\nComputation Length: %d\nTree Depth: %d\nLength: %d\nTest Accuracy: %v",
		ind.phenotype, ind.fitness, ind.accuracy, ind.computationLength, ind.treeDepth, ind.Length(), ind.testAccuracy)
}
