package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var syncWrites = &opt.WriteOptions{Sync: true}

// LevelDBProvider serves both the on-disk and the in-memory backend
type LevelDBProvider struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
	closeOnce sync.Once
	closeErr  error
}

func NewLevelDBProvider(directory string) (*LevelDBProvider, error) {
	ldb, err := leveldb.OpenFile(directory, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB at %s: %w", directory, err)
	}
	// committed state must survive a crash right after Commit returns
	return &LevelDBProvider{db: ldb, writeOpts: syncWrites}, nil
}

// NewMemLevelDBProvider backs the "memory" backend and the tests
func NewMemLevelDBProvider() (*LevelDBProvider, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory LevelDB: %w", err)
	}
	return &LevelDBProvider{db: ldb}, nil
}

func (p *LevelDBProvider) Get(key []byte) ([]byte, error) {
	value, err := p.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

// GetBatch reads every key from one snapshot so a concurrent commit is
// seen either entirely or not at all. Missing keys are left out.
func (p *LevelDBProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	snap, err := p.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := snap.Get(key, nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[string(key)] = value
	}
	return result, nil
}

func (p *LevelDBProvider) Put(key, value []byte) error {
	return p.db.Put(key, value, p.writeOpts)
}

func (p *LevelDBProvider) Batch() DatabaseBatch {
	return &levelDBBatch{provider: p, batch: new(leveldb.Batch)}
}

func (p *LevelDBProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	iter := p.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		// iterator buffers are reused between steps
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

// Close may be called by every store sharing the provider
func (p *LevelDBProvider) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.db.Close()
	})
	return p.closeErr
}

type levelDBBatch struct {
	provider *LevelDBProvider
	batch    *leveldb.Batch
}

func (b *levelDBBatch) Put(key, value []byte) { b.batch.Put(key, value) }

func (b *levelDBBatch) Delete(key []byte) { b.batch.Delete(key) }

func (b *levelDBBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	return b.provider.db.Write(b.batch, b.provider.writeOpts)
}

func (b *levelDBBatch) Close() { b.batch.Reset() }
