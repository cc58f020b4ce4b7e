// Package pool runs tasks on a bounded set of goroutines.
//
// A pool keeps Min resident workers and grows on demand up to Max. Workers
// above Min exit after IdleTimeout without work. The transport server runs
// connections and deferred handlers on pools, the client runs fan-out sends
// on one, and deposit controllers run agent collections on a caller-supplied
// pool.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed    = errors.New("pool closed")
	ErrPoolExhausted = errors.New("pool exhausted")
)

type Options struct {
	Name string
	// Min workers stay up for the life of the pool.
	Min int
	// Max bounds concurrent tasks. Max <= 0 means unbounded.
	Max int
	// IdleTimeout retires workers above Min. Defaults to 30s.
	IdleTimeout time.Duration
	Log         *slog.Logger
	Metrics     PoolMetrics
}

type Pool struct {
	name    string
	min     int
	max     int
	idle    time.Duration
	log     *slog.Logger
	metrics PoolMetrics

	tasks    chan func()
	done     chan struct{}
	workers  atomic.Int32
	inflight atomic.Int32

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options) *Pool {
	if opts.Min < 0 {
		opts.Min = 0
	}
	if opts.Max > 0 && opts.Max < opts.Min {
		opts.Max = opts.Min
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = NopPoolMetrics()
	}
	p := &Pool{
		name:    opts.Name,
		min:     opts.Min,
		max:     opts.Max,
		idle:    opts.IdleTimeout,
		log:     log.With(slog.String("pool", opts.Name)),
		metrics: m,
		tasks:   make(chan func()),
		done:    make(chan struct{}),
	}
	for range opts.Min {
		p.spawn(nil, true)
	}
	return p
}

// Submit hands fn to a worker, blocking while the pool is at Max until a
// worker frees up, ctx ends or the pool closes.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	if p.offer(fn) {
		return nil
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-ctx.Done():
		p.metrics.TaskRejected(p.name)
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// TrySubmit never blocks. It fails with ErrPoolExhausted when every worker is
// busy and the pool is at Max.
func (p *Pool) TrySubmit(fn func()) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	if p.offer(fn) {
		return nil
	}
	p.metrics.TaskRejected(p.name)
	return ErrPoolExhausted
}

// offer gives fn to an idle worker or a new one.
func (p *Pool) offer(fn func()) bool {
	select {
	case p.tasks <- fn:
		return true
	default:
	}
	return p.spawn(fn, false)
}

func (p *Pool) spawn(first func(), resident bool) bool {
	for {
		n := p.workers.Load()
		if p.max > 0 && int(n) >= p.max {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			break
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.workers.Add(-1)
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.Workers(p.name, int(p.workers.Load()))
	go p.work(first, resident)
	return true
}

func (p *Pool) work(fn func(), resident bool) {
	defer p.wg.Done()
	defer func() {
		p.metrics.Workers(p.name, int(p.workers.Add(-1)))
	}()

	var idle *time.Timer
	var idleC <-chan time.Time
	if !resident {
		idle = time.NewTimer(p.idle)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		if fn != nil {
			p.run(fn)
			fn = nil
			if idle != nil {
				idle.Reset(p.idle)
			}
		}
		select {
		case fn = <-p.tasks:
		case <-idleC:
			return
		case <-p.done:
			return
		}
	}
}

func (p *Pool) run(fn func()) {
	p.metrics.Inflight(p.name, int(p.inflight.Add(1)))
	defer func() {
		p.metrics.Inflight(p.name, int(p.inflight.Add(-1)))
	}()
	defer p.metrics.TaskDuration(p.name).ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			p.metrics.TaskCompleted(p.name, false)
			p.log.Error("task panicked", slog.Any("recovered", r))
		}
	}()

	fn()
	p.metrics.TaskCompleted(p.name, true)
}

// Inflight is the number of tasks currently running.
func (p *Pool) Inflight() int { return int(p.inflight.Load()) }

// Workers is the number of live worker goroutines.
func (p *Pool) Workers() int { return int(p.workers.Load()) }

func (p *Pool) Name() string { return p.name }

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops accepting tasks and waits for running ones. Queued Submit calls
// fail with ErrPoolClosed. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}
