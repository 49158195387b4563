package genotype

import (
	"fmt"
	"math"
	"math/rand"

	"mltlsge/internal/grammar"
)

// CrossoverPoints records the cut chosen for each non-terminal.
type CrossoverPoints [grammar.NumNonTerminals]int

// Crossover performs structured one-point crossover. For every non-terminal
// the cut is drawn from [0, p1.Used(nt)] and the child list is
// p1[:cut] + p2[cut:]. Used counts on the child are zero until it is derived.
func Crossover(rng *rand.Rand, p1, p2 *Genotype) (*Genotype, CrossoverPoints, error) {
	var points CrossoverPoints
	if err := p1.Validate(); err != nil {
		return nil, points, fmt.Errorf("crossover parent 1: %w", err)
	}
	if err := p2.Validate(); err != nil {
		return nil, points, fmt.Errorf("crossover parent 2: %w", err)
	}

	child := &Genotype{}
	for _, nt := range grammar.NonTerminals() {
		a, b := p1.codons[nt], p2.codons[nt]
		bound := p1.used[nt]
		if bound > len(a) {
			bound = len(a)
		}
		point := rng.Intn(bound + 1)
		list := make([]int, 0, max(len(a), len(b)))
		list = append(list, a[:point]...)
		if point < len(b) {
			list = append(list, b[point:]...)
		}
		if len(list) == 0 {
			return nil, points, fmt.Errorf("%w: crossover produced empty %s", ErrEmptyCodons, nt)
		}
		child.codons[nt] = list
		points[nt] = point
	}
	return child, points, nil
}

// Distance is the genetic difference between x and y. Codons at the same
// locus count as equal when they select the same production, i.e. they are
// congruent modulo g.Choices(nt). Locus i contributes r^(i+1) with
// r = 1/(NumNonTerminals+1), so early loci dominate.
func Distance(g *grammar.Grammar, x, y *Genotype) float64 {
	r := 1.0 / float64(grammar.NumNonTerminals+1)
	total := 0.0
	for _, nt := range grammar.NonTerminals() {
		maxUsed := max(x.used[nt], y.used[nt])
		if maxUsed == 0 {
			continue
		}
		choices := g.Choices(nt)
		xs, ys := x.codons[nt], y.codons[nt]
		for i := 0; i < maxUsed; i++ {
			if i >= len(xs) || i >= len(ys) {
				total += math.Pow(r, float64(i+1))
				continue
			}
			if xs[i]%choices != ys[i]%choices {
				total += math.Pow(r, float64(i+1))
			}
		}
	}
	return total
}
