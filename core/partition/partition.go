// Package partition maps keys to integer partitions and keeps each key where
// it was first placed.
//
// A Partitioner holds an ordered history of partition functions. The first
// lookup of a key computes its partition with the current function and
// memorizes it; every later lookup returns the memorized value, whatever
// functions were installed since, until the key is forgotten.
//
//	p := partition.New(partition.Options{})
//	p.SetPartitionFunction(partition.Modulo(8))
//	part, err := p.Partition(ctx, "doc-17")
package partition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrNoFunction = errors.New("no partition function set")

type Options struct {
	// Store remembers assignments. Defaults to a MemStore.
	Store   Store
	Log     *slog.Logger
	Metrics PartitionMetrics
}

type Partitioner struct {
	store   Store
	log     *slog.Logger
	metrics PartitionMetrics

	mu    sync.RWMutex
	funcs []Func
}

func New(opts Options) *Partitioner {
	if opts.Store == nil {
		opts.Store = NewMemStore()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopPartitionMetrics()
	}
	return &Partitioner{
		store:   opts.Store,
		log:     opts.Log,
		metrics: opts.Metrics,
	}
}

// SetPartitionFunction makes fn current for keys not seen before and returns
// its generation.
func (p *Partitioner) SetPartitionFunction(fn Func) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs = append(p.funcs, fn)
	gen := len(p.funcs) - 1
	p.log.Debug("partition function installed", slog.Int("generation", gen))
	return gen
}

// Generation is the current function's generation, -1 before the first.
func (p *Partitioner) Generation() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.funcs) - 1
}

func (p *Partitioner) current() (Func, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.funcs) == 0 {
		return nil, -1
	}
	gen := len(p.funcs) - 1
	return p.funcs[gen], gen
}

// Partition returns key's memorized partition, assigning one with the current
// function on first sight.
func (p *Partitioner) Partition(ctx context.Context, key string) (int, error) {
	rec, err := p.Record(ctx, key)
	if err != nil {
		return 0, err
	}
	return rec.Partition, nil
}

// Record is Partition with the assignment's provenance.
func (p *Partitioner) Record(ctx context.Context, key string) (Record, error) {
	rec, ok, err := p.store.Load(ctx, key)
	if err != nil {
		p.metrics.StoreError("load")
		return Record{}, err
	}
	if ok {
		p.metrics.Lookup(true)
		return rec, nil
	}

	fn, gen := p.current()
	if fn == nil {
		return Record{}, ErrNoFunction
	}
	rec, err = p.store.LoadOrCreate(ctx, key, Record{
		Partition:  fn(key),
		Generation: gen,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		p.metrics.StoreError("create")
		return Record{}, err
	}
	p.metrics.Lookup(false)
	return rec, nil
}

// Forget drops key's assignment; its next lookup is assigned afresh.
func (p *Partitioner) Forget(ctx context.Context, key string) error {
	if err := p.store.Delete(ctx, key); err != nil {
		p.metrics.StoreError("delete")
		return err
	}
	p.metrics.Forgotten()
	return nil
}
