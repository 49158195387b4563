package storage

import (
	"context"
	"slices"
	"strings"

	"mltlsge/internal/model"
)

// Store defines transaction-like persistence operations for run artifacts.
// Get methods report a missing record with ok == false and a nil error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SavePopulation(ctx context.Context, population model.PopulationRecord) error
	GetPopulation(ctx context.Context, runID string) (model.PopulationRecord, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopIndividuals(ctx context.Context, runID string, top []model.TopIndividualRecord) error
	GetTopIndividuals(ctx context.Context, runID string) ([]model.TopIndividualRecord, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

// Versioned stamps a record with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func sortRuns(runs []model.RunRecord) {
	slices.SortStableFunc(runs, func(a, b model.RunRecord) int {
		if c := strings.Compare(a.CreatedAtUTC, b.CreatedAtUTC); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
