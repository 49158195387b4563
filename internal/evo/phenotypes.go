package evo

import "sync"

// PhenotypeTable records every phenotype seen during a run and the best
// fitness it achieved.
type PhenotypeTable struct {
	mu      sync.RWMutex
	fitness map[string]float64
}

func NewPhenotypeTable() *PhenotypeTable {
	return &PhenotypeTable{fitness: make(map[string]float64)}
}

// Record stores fitness for phenotype, keeping the maximum.
func (t *PhenotypeTable) Record(phenotype string, fitness float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.fitness[phenotype]; ok && prev >= fitness {
		return
	}
	t.fitness[phenotype] = fitness
}

func (t *PhenotypeTable) Contains(phenotype string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.fitness[phenotype]
	return ok
}

func (t *PhenotypeTable) Fitness(phenotype string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.fitness[phenotype]
	return f, ok
}

func (t *PhenotypeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fitness)
}
