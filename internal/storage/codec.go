package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"mltlsge/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodePopulation(p model.PopulationRecord) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePopulation(data []byte) (model.PopulationRecord, error) {
	var population model.PopulationRecord
	if err := json.Unmarshal(data, &population); err != nil {
		return model.PopulationRecord{}, err
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return model.PopulationRecord{}, err
	}
	return population, nil
}

func EncodeTopIndividuals(top []model.TopIndividualRecord) ([]byte, error) {
	return json.Marshal(top)
}

func DecodeTopIndividuals(data []byte) ([]model.TopIndividualRecord, error) {
	var top []model.TopIndividualRecord
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	for _, record := range top {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, fmt.Errorf("rank %d: %w", record.Rank, err)
		}
	}
	return top, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeFitnessHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeFitnessHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
