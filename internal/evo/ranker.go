package evo

import "sort"

// Ranker reorders a population after evaluation and before selection. The
// input is sorted by descending fitness; implementations return a new slice.
type Ranker interface {
	Name() string
	Rank(population []*Individual) []*Individual
}

type NoopRanker struct{}

func (NoopRanker) Name() string {
	return "none"
}

func (NoopRanker) Rank(population []*Individual) []*Individual {
	return append([]*Individual(nil), population...)
}

// GeneticDifferenceRanker keeps the best individual first and orders the
// rest by a blend of fitness and genetic distance from the best:
// fitness*(1-Weight) + Weight*distance.
type GeneticDifferenceRanker struct {
	Weight float64
}

func (GeneticDifferenceRanker) Name() string {
	return "genetic_difference"
}

func (r GeneticDifferenceRanker) Rank(population []*Individual) []*Individual {
	out := append([]*Individual(nil), population...)
	if len(out) < 3 || r.Weight == 0 {
		return out
	}
	best := out[0]
	rest := out[1:]
	keys := make(map[*Individual]float64, len(rest))
	for _, ind := range rest {
		keys[ind] = ind.fitness*(1-r.Weight) + r.Weight*GeneticDifference(ind, best)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return keys[rest[i]] > keys[rest[j]]
	})
	return out
}

// RankerFor picks the ranker for a genetic-difference weight; zero disables
// reranking.
func RankerFor(weight float64) Ranker {
	if weight == 0 {
		return NoopRanker{}
	}
	return GeneticDifferenceRanker{Weight: weight}
}
