package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/cache"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/sf"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/ports/kv"
)

// Record is a memorized partition assignment.
type Record struct {
	Partition int `json:"partition"`
	// Generation is the index of the partition function that assigned it.
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store remembers assignments. LoadOrCreate must be atomic: concurrent
// callers for one key all get the record that was stored first.
type Store interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	LoadOrCreate(ctx context.Context, key string, rec Record) (Record, error)
	Delete(ctx context.Context, key string) error
}

// MemStore keeps assignments in process memory.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (m *MemStore) Load(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemStore) LoadOrCreate(_ context.Context, key string, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[key]; ok {
		return existing, nil
	}
	m.records[key] = rec
	return rec, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

type KVStoreOptions struct {
	// Prefix is prepended to every key.
	Prefix string
	// CacheSize bounds the records cached in process. Records never change
	// until forgotten, so a cached record is only stale after another
	// process forgets it. Defaults to 4096; < 0 disables the cache.
	CacheSize int
}

// KVStore keeps assignments in a kv.Store. Concurrent first lookups of one
// key in this process make a single round trip to the store.
type KVStore struct {
	kv     kv.Store
	prefix string
	cache  *cache.LRU[Record]
	group  *sf.Group[Record]
}

func NewKVStore(store kv.Store, opts KVStoreOptions) *KVStore {
	s := &KVStore{
		kv:     store,
		prefix: opts.Prefix,
		group:  sf.New[Record](),
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheSize > 0 {
		s.cache = cache.NewLRU(cache.LRUOpts[Record]{Size: opts.CacheSize})
	}
	return s
}

func (s *KVStore) Load(ctx context.Context, key string) (Record, bool, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(key); ok {
			return rec, true, nil
		}
	}
	rec, err := kv.Get[Record](ctx, s.kv, s.prefix+key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return Record{}, false, nil
	case err != nil:
		return Record{}, false, fmt.Errorf("load partition %s: %w", key, err)
	}
	s.remember(key, rec)
	return rec, true, nil
}

func (s *KVStore) LoadOrCreate(ctx context.Context, key string, rec Record) (Record, error) {
	stored, _, err := s.group.Do(key, func() (Record, error) {
		err := kv.Create(ctx, s.kv, s.prefix+key, rec)
		switch {
		case err == nil:
			s.remember(key, rec)
			return rec, nil
		case !errors.Is(err, kv.ErrExists):
			return Record{}, fmt.Errorf("create partition %s: %w", key, err)
		}
		existing, err := kv.Get[Record](ctx, s.kv, s.prefix+key)
		if err != nil {
			return Record{}, fmt.Errorf("load partition %s: %w", key, err)
		}
		s.remember(key, existing)
		return existing, nil
	})
	return stored, err
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.group.Forget(key)
	if s.cache != nil {
		s.cache.Delete(key)
	}
	if err := s.kv.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("delete partition %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) remember(key string, rec Record) {
	if s.cache != nil {
		s.cache.Put(key, rec)
	}
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*KVStore)(nil)
)
