package prefs

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

// LevelDBStore persists preferences in a LevelDB database.
type LevelDBStore struct {
	db     *leveldb.DB
	logger *zap.Logger
}

// OpenLevelDB opens (or creates) the preference database under dataDir.
func OpenLevelDB(dataDir string, logger *zap.Logger) (*LevelDBStore, error) {
	path := filepath.Join(dataDir, "prefs")
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference database %s: %w", path, err)
	}
	return newLevelDBStore(db, logger), nil
}

// OpenMemLevelDB opens a LevelDB store backed by memory.
func OpenMemLevelDB(logger *zap.Logger) (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory preference database: %w", err)
	}
	return newLevelDBStore(db, logger), nil
}

func newLevelDBStore(db *leveldb.DB, logger *zap.Logger) *LevelDBStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelDBStore{db: db, logger: logger}
}

func (l *LevelDBStore) Get(path string) (string, bool) {
	v, err := l.db.Get([]byte(path), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			l.logger.Warn("Failed to read preference",
				zap.String("path", path),
				zap.Error(err))
		}
		return "", false
	}
	return string(v), true
}

func (l *LevelDBStore) Set(path, value string) error {
	if err := l.db.Put([]byte(path), []byte(value), nil); err != nil {
		return fmt.Errorf("failed to write preference %s: %w", path, err)
	}
	return nil
}

// All returns every preference stored under prefix.
func (l *LevelDBStore) All(prefix string) (map[string]string, error) {
	out := make(map[string]string)
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		out[string(it.Key())] = string(it.Value())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return out, nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}
