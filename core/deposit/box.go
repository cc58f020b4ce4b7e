package deposit

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/cache"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

type BoxOptions struct {
	Name string
	// MaxKeys bounds the deposit key index. Drawers whose key falls out of
	// the index are incinerated. Defaults to 1024.
	MaxKeys int
	// MonitorInterval is how often expired drawers are cleaned out.
	// Defaults to 10s; < 0 disables the monitor.
	MonitorInterval time.Duration
	Log             *slog.Logger
	Metrics         DepositMetrics
}

// BoxStats describes the drawers of a Box.
type BoxStats struct {
	// Total counts every drawer ever reserved.
	Total   int64 `json:"total"`
	Active  int   `json:"active"`
	Filled  int   `json:"filled"`
	Filling int   `json:"filling"`
}

type drawer struct {
	claim     int64
	key       string
	fill      time.Duration
	counter   *UnitCounter
	opened    time.Time
	deposited time.Time
	withdrawn time.Time
	expires   time.Time
	filled    bool
	contents  wire.Message
	err       string
}

func (d *drawer) expired(now time.Time) bool {
	return !d.expires.IsZero() && !now.Before(d.expires)
}

// Box holds the results of tasks a node works on until their submitters
// withdraw them. Drawers are numbered by claim and found again by the task's
// deposit key.
//
// A drawer's fill time decides how long it lives: > 0 expires it that long
// after it was reserved, 0 keeps it until it is incinerated or its key is
// evicted, and < 0 keeps it |fill| after each withdrawal.
type Box struct {
	name    string
	log     *slog.Logger
	metrics DepositMetrics

	// mu guards drawers and every call into keys, so eviction callbacks from
	// keys run with mu held.
	mu      sync.Mutex
	drawers map[int64]*drawer
	keys    *cache.LRU[int64]
	next    int64

	now    func() time.Time
	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewBox(opts BoxOptions) *Box {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("box-%s", gonanoid.Must(6))
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 1024
	}
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = 10 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopDepositMetrics()
	}

	b := &Box{
		name:    opts.Name,
		log:     opts.Log.With(slog.String("box", opts.Name)),
		metrics: opts.Metrics,
		drawers: make(map[int64]*drawer),
		next:    1,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	b.keys = cache.NewLRU(cache.LRUOpts[int64]{
		Size:    opts.MaxKeys,
		OnEvict: b.evictKey,
	})

	if opts.MonitorInterval > 0 {
		b.wg.Add(1)
		go b.monitor(opts.MonitorInterval)
	}
	return b
}

func (b *Box) Name() string { return b.name }

func (b *Box) monitor(interval time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			if n := b.CleanHouse(b.now()); n > 0 {
				b.log.Debug("expired drawers removed", slog.Int("count", n))
			}
		}
	}
}

// Reserve opens a drawer for key and returns its claim number. Claim numbers
// start at 1 and are never reused by the same box.
func (b *Box) Reserve(fill time.Duration, key string, counter *UnitCounter) int64 {
	if counter == nil {
		counter = NewUnitCounter()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	d := &drawer{
		claim:   b.next,
		key:     key,
		fill:    fill,
		counter: counter,
		opened:  now,
	}
	b.next++
	if fill > 0 {
		d.expires = now.Add(fill)
	}
	b.drawers[d.claim] = d
	if key != "" {
		b.keys.Put(key, d.claim)
	}

	b.metrics.DrawerReserved(b.name)
	b.metrics.DrawersActive(b.name, len(b.drawers))
	return d.claim
}

// Lookup finds the claim of the latest drawer reserved for key.
func (b *Box) Lookup(key string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys.Get(key)
}

// WasReserved reports whether claim was ever handed out by this box.
func (b *Box) WasReserved(claim int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return claim > 0 && claim < b.next
}

// UnitCounter returns the counter of a live drawer.
func (b *Box) UnitCounter(claim int64) (*UnitCounter, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drawers[claim]
	if !ok {
		return nil, false
	}
	return d.counter, true
}

// Deposit fills the drawer for claim. A non-empty errText records a failed
// task instead of contents. It reports false when the drawer is gone or
// already filled.
func (b *Box) Deposit(claim int64, contents wire.Message, errText string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drawers[claim]
	if !ok || d.filled {
		return false
	}
	d.filled = true
	d.contents = contents
	d.err = errText
	d.deposited = b.now()

	b.metrics.DrawerFilled(b.name, errText == "")
	return true
}

// Withdraw reads the drawer for claim. A filled drawer yields Retrieved and
// is incinerated when closeBox is set. A drawer that no longer exists yields
// Expired if the claim was handed out here and Unreserved otherwise.
func (b *Box) Withdraw(claim int64, closeBox bool) *Withdrawal {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := &Withdrawal{ClaimNumber: claim, Node: b.name}
	d, ok := b.drawers[claim]
	switch {
	case !ok && claim > 0 && claim < b.next:
		w.Code = CodeExpired
	case !ok:
		w.Code = CodeUnreserved
	case !d.filled:
		w.Code = CodeNoDeposit
		w.fillFrom(d)
	default:
		now := b.now()
		d.withdrawn = now
		if d.fill < 0 {
			d.expires = now.Add(-d.fill)
		}
		w.Code = CodeRetrieved
		w.Contents = d.contents
		w.Err = d.err
		w.fillFrom(d)
		if closeBox {
			b.remove(d)
		}
	}

	b.metrics.WithdrawalServed(b.name, w.Code.String())
	return w
}

// Incinerate removes the drawer for claim.
func (b *Box) Incinerate(claim int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drawers[claim]
	if !ok {
		return false
	}
	b.remove(d)
	b.metrics.DrawersIncinerated(b.name, 1)
	return true
}

// IncinerateKey removes every drawer reserved for key.
func (b *Box) IncinerateKey(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeWhere(func(d *drawer) bool { return d.key == key })
}

// IncinerateOlder removes drawers opened more than age ago.
func (b *Box) IncinerateOlder(age time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-age)
	return b.removeWhere(func(d *drawer) bool { return d.opened.Before(cutoff) })
}

// CleanHouse removes drawers expired at now.
func (b *Box) CleanHouse(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeWhere(func(d *drawer) bool { return d.expired(now) })
}

func (b *Box) removeWhere(match func(*drawer) bool) int {
	n := 0
	for _, d := range b.drawers {
		if match(d) {
			b.remove(d)
			n++
		}
	}
	if n > 0 {
		b.metrics.DrawersIncinerated(b.name, n)
	}
	return n
}

// remove must be called with mu held.
func (b *Box) remove(d *drawer) {
	delete(b.drawers, d.claim)
	if d.key != "" {
		if claim, ok := b.keys.Get(d.key); ok && claim == d.claim {
			b.keys.Delete(d.key)
		}
	}
	if !d.filled {
		d.counter.Kill()
	}
	b.metrics.DrawersActive(b.name, len(b.drawers))
}

// evictKey runs inside keys with mu held.
func (b *Box) evictKey(key string, _ int64) {
	n := 0
	for claim, d := range b.drawers {
		if d.key == key {
			delete(b.drawers, claim)
			if !d.filled {
				d.counter.Kill()
			}
			n++
		}
	}
	if n > 0 {
		b.log.Debug("drawers evicted with key", slog.String("key", key), slog.Int("count", n))
		b.metrics.DrawersIncinerated(b.name, n)
	}
}

func (b *Box) Stats() BoxStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BoxStats{Total: b.next - 1, Active: len(b.drawers)}
	for _, d := range b.drawers {
		if d.filled {
			s.Filled++
		} else {
			s.Filling++
		}
	}
	return s
}

// FilledKeys lists the keys of drawers holding contents.
func (b *Box) FilledKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for _, d := range b.drawers {
		if d.filled && d.key != "" {
			keys = append(keys, d.key)
		}
	}
	return keys
}

// Close stops the expiry monitor and kills the counters of unfilled drawers.
func (b *Box) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.stop)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.drawers {
		if !d.filled {
			d.counter.Kill()
		}
	}
}

// BoxHolder is the node context capability that gives Deposit messages
// access to the node's box.
type BoxHolder interface {
	SafeDepositBox() *Box
}

// NodeContext adds a Box to a node's transport context.
type NodeContext struct {
	transport.Context
	Box *Box
}

// WithBox is a transport.ServerOptions WrapContext function.
func WithBox(box *Box) func(transport.Context) transport.Context {
	return func(nc transport.Context) transport.Context {
		return NodeContext{Context: nc, Box: box}
	}
}

func (c NodeContext) SafeDepositBox() *Box { return c.Box }

func (c NodeContext) RequestShutdown(delay time.Duration) {
	if sd, ok := c.Context.(transport.Shutdowner); ok {
		sd.RequestShutdown(delay)
	}
}

var (
	_ BoxHolder            = NodeContext{}
	_ transport.Shutdowner = NodeContext{}
)
