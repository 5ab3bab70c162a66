package db

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sparqnet/go-sparq/log"
)

// LevelDB is the on-disk Store implementation.
type LevelDB struct {
	db      *leveldb.DB
	batchMu sync.Mutex // serializes WriteBatch/ReadBatch
	closeMu sync.RWMutex
	closed  bool
	logger  *log.Logger
}

// OpenLevelDB opens (creating if needed) a LevelDB store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: ldb, logger: log.Default().Module("db")}, nil
}

func (l *LevelDB) Has(key []byte, prefix Prefix) (bool, error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return false, ErrClosed
	}
	return l.db.Has(prefixed(prefix, key), nil)
}

func (l *LevelDB) Get(key []byte, prefix Prefix) ([]byte, error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	val, err := l.db.Get(prefixed(prefix, key), nil)
	if err == ldberrors.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Put(key, value []byte, prefix Prefix) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Put(prefixed(prefix, key), value, nil)
}

func (l *LevelDB) Delete(key []byte, prefix Prefix) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Delete(prefixed(prefix, key), nil)
}

// WriteBatch applies the batch under the store's batch mutex. On failure the
// store may hold a partial write; callers must treat it as suspect.
func (l *LevelDB) WriteBatch(batch Batch, prefix Prefix) error {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	wb := new(leveldb.Batch)
	for _, e := range batch.Puts {
		wb.Put(prefixed(prefix, e.Key), e.Value)
	}
	for _, key := range batch.Deletes {
		wb.Delete(prefixed(prefix, key))
	}
	if err := l.db.Write(wb, nil); err != nil {
		l.logger.Error("batch write failed", "prefix", string(prefix), "ops", batch.Len(), "err", err)
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (l *LevelDB) ReadBatch(prefix Prefix) ([]Entry, error) {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	var entries []Entry
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		key := bytes.Clone(it.Key()[len(prefix):])
		entries = append(entries, Entry{Key: key, Value: bytes.Clone(it.Value())})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return entries, nil
}

func (l *LevelDB) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

var _ Store = (*LevelDB)(nil)
