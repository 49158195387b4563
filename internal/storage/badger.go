package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"mltlsge/internal/model"
)

const (
	prefixRun         = "run/"
	prefixPopulation  = "population/"
	prefixHistory     = "history/"
	prefixDiagnostics = "diagnostics/"
	prefixTop         = "top/"
	prefixLineage     = "lineage/"
)

// BadgerConfig configures an embedded key-value store. Path is ignored when
// InMemory is set; a nil Logger silences badger.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type BadgerStore struct {
	cfg BadgerConfig

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(cfg BadgerConfig) *BadgerStore {
	return &BadgerStore{cfg: cfg}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if s.cfg.Path == "" {
			return errors.New("badger path is required")
		}
		if err := os.MkdirAll(s.cfg.Path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.cfg.Path, err)
		}
		opts = badger.DefaultOptions(s.cfg.Path)
	}
	opts = opts.WithSyncWrites(s.cfg.SyncWrites).WithNumVersionsToKeep(1)
	if s.cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: s.cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(prefixRun+run.ID, payload)
}

func (s *BadgerStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(prefixRun + id)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *BadgerStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var runs []model.RunRecord
	err = db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixRun)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			run, err := DecodeRun(payload)
			if err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *BadgerStore) SavePopulation(_ context.Context, population model.PopulationRecord) error {
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.put(prefixPopulation+population.RunID, payload)
}

func (s *BadgerStore) GetPopulation(_ context.Context, runID string) (model.PopulationRecord, bool, error) {
	payload, ok, err := s.get(prefixPopulation + runID)
	if err != nil || !ok {
		return model.PopulationRecord{}, false, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.PopulationRecord{}, false, fmt.Errorf("decode population %s: %w", runID, err)
	}
	return population, true, nil
}

func (s *BadgerStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	payload, err := EncodeFitnessHistory(history)
	if err != nil {
		return err
	}
	return s.put(prefixHistory+runID, payload)
}

func (s *BadgerStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.get(prefixHistory + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeFitnessHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode fitness history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *BadgerStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeGenerationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.put(prefixDiagnostics+runID, payload)
}

func (s *BadgerStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.get(prefixDiagnostics + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeGenerationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *BadgerStore) SaveTopIndividuals(_ context.Context, runID string, top []model.TopIndividualRecord) error {
	payload, err := EncodeTopIndividuals(top)
	if err != nil {
		return err
	}
	return s.put(prefixTop+runID, payload)
}

func (s *BadgerStore) GetTopIndividuals(_ context.Context, runID string) ([]model.TopIndividualRecord, bool, error) {
	payload, ok, err := s.get(prefixTop + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	top, err := DecodeTopIndividuals(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode top individuals %s: %w", runID, err)
	}
	return top, true, nil
}

func (s *BadgerStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	payload, err := EncodeLineage(lineage)
	if err != nil {
		return err
	}
	return s.put(prefixLineage+runID, payload)
}

func (s *BadgerStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	payload, ok, err := s.get(prefixLineage + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func (s *BadgerStore) put(key string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

func (s *BadgerStore) get(key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}
