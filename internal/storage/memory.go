package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"mltlsge/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	populations map[string]model.PopulationRecord
	history     map[string][]float64
	diagnostics map[string][]model.GenerationDiagnostics
	top         map[string][]model.TopIndividualRecord
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.populations = make(map[string]model.PopulationRecord)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.top = make(map[string][]model.TopIndividualRecord)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := slices.Collect(maps.Values(s.runs))
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.PopulationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	population.Individuals = cloneIndividuals(population.Individuals)
	s.populations[population.RunID] = population
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, runID string) (model.PopulationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	population, ok := s.populations[runID]
	if !ok {
		return model.PopulationRecord{}, false, nil
	}
	population.Individuals = cloneIndividuals(population.Individuals)
	return population, true, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = slices.Clone(history)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(history), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.diagnostics[runID] = slices.Clone(diagnostics)
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(diagnostics), true, nil
}

func (s *MemoryStore) SaveTopIndividuals(_ context.Context, runID string, top []model.TopIndividualRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.top[runID] = cloneTop(top)
	return nil
}

func (s *MemoryStore) GetTopIndividuals(_ context.Context, runID string) ([]model.TopIndividualRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	top, ok := s.top[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneTop(top), true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.lineage[runID] = slices.Clone(lineage)
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(lineage), true, nil
}

func cloneIndividual(in model.IndividualRecord) model.IndividualRecord {
	out := in
	out.Codons = make(map[string][]int, len(in.Codons))
	for name, codons := range in.Codons {
		out.Codons[name] = slices.Clone(codons)
	}
	out.Used = maps.Clone(in.Used)
	return out
}

func cloneIndividuals(in []model.IndividualRecord) []model.IndividualRecord {
	out := make([]model.IndividualRecord, len(in))
	for i := range in {
		out[i] = cloneIndividual(in[i])
	}
	return out
}

func cloneTop(in []model.TopIndividualRecord) []model.TopIndividualRecord {
	out := make([]model.TopIndividualRecord, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Individual = cloneIndividual(in[i].Individual)
	}
	return out
}
