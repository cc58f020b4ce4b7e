package cache

import (
	"container/list"
	"sync"
	"time"
)

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

// WithTTL expires the entry ttl after it was put. ttl <= 0 means never.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

type LRUOpts[V any] struct {
	Size int
	// OnEvict is called for entries dropped by capacity or expiry, never for
	// explicit deletes. It runs with the cache lock held and must not call back
	// into the cache.
	OnEvict func(key string, val V)
}

type entry[V any] struct {
	key     string
	val     V
	expires time.Time
}

// LRU is safe for concurrent use.
type LRU[V any] struct {
	mu      sync.Mutex
	size    int
	ll      *list.List
	items   map[string]*list.Element
	onEvict func(string, V)
	now     func() time.Time
}

func NewLRU[V any](opts LRUOpts[V]) *LRU[V] {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU[V]{
		size:    opts.Size,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		onEvict: opts.OnEvict,
		now:     time.Now,
	}
}

func (l *LRU[V]) Get(key string) (v V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return v, false
	}
	e := ele.Value.(*entry[V])
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.evict(ele)
		return v, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU[V]) Put(key string, val V, opts ...PutOption) {
	var po PutOptions
	for _, o := range opts {
		o(&po)
	}
	var expires time.Time
	if po.TTL > 0 {
		expires = l.now().Add(po.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry[V])
		e.val = val
		e.expires = expires
		l.ll.MoveToFront(ele)
		return
	}
	l.items[key] = l.ll.PushFront(&entry[V]{key: key, val: val, expires: expires})
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.evict(last)
		}
	}
}

func (l *LRU[V]) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.Remove(ele)
		delete(l.items, key)
	}
}

// DeleteFunc removes every entry for which match returns true and reports how
// many were removed.
func (l *LRU[V]) DeleteFunc(match func(key string, val V) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ele := l.ll.Front(); ele != nil; {
		next := ele.Next()
		e := ele.Value.(*entry[V])
		if match(e.key, e.val) {
			l.ll.Remove(ele)
			delete(l.items, e.key)
			n++
		}
		ele = next
	}
	return n
}

// Len counts entries, including expired ones not yet evicted.
func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU[V]) evict(ele *list.Element) {
	e := ele.Value.(*entry[V])
	l.ll.Remove(ele)
	delete(l.items, e.key)
	if l.onEvict != nil {
		l.onEvict(e.key, e.val)
	}
}
