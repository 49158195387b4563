package evo

import (
	"fmt"
	"math/rand"

	"mltlsge/internal/genotype"
)

// TruncationFraction is the share of a sorted population kept as parents.
const TruncationFraction = 5

// TruncationSelect returns the top len(population)/5 individuals. The
// population must already be sorted by descending fitness; order is kept.
func TruncationSelect(population []*Individual) []*Individual {
	n := len(population) / TruncationFraction
	out := make([]*Individual, n)
	copy(out, population[:n])
	return out
}

// Offspring is a crossover child together with where it came from.
type Offspring struct {
	Child   *Individual
	Parent1 *Individual
	Parent2 *Individual
	Points  genotype.CrossoverPoints
}

// Crossover builds a child from p1 and p2 by structured one-point crossover
// on every codon list. p1 bounds the cut points and lends its mutation rate.
func Crossover(rng *rand.Rand, p1, p2 *Individual) (Offspring, error) {
	gt, points, err := genotype.Crossover(rng, p1.genotype, p2.genotype)
	if err != nil {
		return Offspring{}, err
	}
	child, err := NewIndividual(p1.params, nil, gt)
	if err != nil {
		return Offspring{}, err
	}
	child.mutationRate = p1.mutationRate
	return Offspring{Child: child, Parent1: p1, Parent2: p2, Points: points}, nil
}

// Recombine produces n children. Each child draws two distinct parents
// uniformly; pairs are drawn with replacement across children.
func Recombine(rng *rand.Rand, parents []*Individual, n int) ([]Offspring, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(parents) < 2 {
		return nil, fmt.Errorf("recombination needs at least 2 parents, got %d", len(parents))
	}
	out := make([]Offspring, 0, n)
	for len(out) < n {
		i := rng.Intn(len(parents))
		j := rng.Intn(len(parents) - 1)
		if j >= i {
			j++
		}
		child, err := Crossover(rng, parents[i], parents[j])
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// MutateUntilUnique mutates ind until taken reports its phenotype as free.
// It always mutates at least once and gives up after maxAttempts with
// ErrPhenotypeSpaceExhausted. It returns the number of mutations applied.
func MutateUntilUnique(rng *rand.Rand, ind *Individual, taken func(phenotype string) bool, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxUniqueAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ind.Mutate(rng); err != nil {
			return attempt, err
		}
		if !taken(ind.phenotype) {
			return attempt, nil
		}
	}
	return maxAttempts, fmt.Errorf("%w: %d mutations of %s", ErrPhenotypeSpaceExhausted, maxAttempts, ind.id)
}

// GeneticDifference is the codon distance between x and y under x's grammar.
func GeneticDifference(x, y *Individual) float64 {
	return genotype.Distance(x.params.Grammar, x.genotype, y.genotype)
}
