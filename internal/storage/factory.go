package storage

import (
	"fmt"
	"log/slog"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindBadger = "badger"
)

// NewStore builds an uninitialized store of the given kind. path is the
// sqlite database file or the badger directory.
func NewStore(kind, path string, logger *slog.Logger) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return NewSQLiteStore(path), nil
	case KindBadger:
		if path == "" {
			return nil, fmt.Errorf("badger store requires a path")
		}
		return NewBadgerStore(BadgerConfig{Path: path, SyncWrites: true, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
