package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/ports/kv"
)

var discard = slog.New(slog.DiscardHandler)

func stores(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"mem":         func() Store { return NewMemStore() },
		"kv":          func() Store { return NewKVStore(kv.NewMemStore(), KVStoreOptions{Prefix: "p."}) },
		"kv-uncached": func() Store { return NewKVStore(kv.NewMemStore(), KVStoreOptions{CacheSize: -1}) },
	}
}

func TestPartitioner_Stability(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p := New(Options{Store: store(), Log: discard})

			_, err := p.Partition(t.Context(), "k")
			require.ErrorIs(t, err, ErrNoFunction)
			require.Equal(t, -1, p.Generation())

			require.Equal(t, 0, p.SetPartitionFunction(Const(1)))
			got, err := p.Partition(t.Context(), "old")
			require.NoError(t, err)
			require.Equal(t, 1, got)

			require.Equal(t, 1, p.SetPartitionFunction(Const(2)))
			got, err = p.Partition(t.Context(), "old")
			require.NoError(t, err)
			require.Equal(t, 1, got, "existing key keeps its first partition")

			got, err = p.Partition(t.Context(), "new")
			require.NoError(t, err)
			require.Equal(t, 2, got, "new key uses the current function")

			rec, err := p.Record(t.Context(), "old")
			require.NoError(t, err)
			require.Equal(t, 0, rec.Generation)
			require.False(t, rec.CreatedAt.IsZero())

			require.NoError(t, p.Forget(t.Context(), "old"))
			got, err = p.Partition(t.Context(), "old")
			require.NoError(t, err)
			require.Equal(t, 2, got, "forgotten key is assigned afresh")
		})
	}
}

func TestPartitioner_ConcurrentFirstLookup(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p := New(Options{Store: store(), Log: discard})

			// Every call of the function returns a different partition, so
			// more than one memorized value would show as disagreement.
			var n atomic.Int64
			p.SetPartitionFunction(func(string) int { return int(n.Add(1)) })

			const callers = 32
			got := make([]int, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := p.Partition(context.Background(), "shared")
					assert.NoError(t, err)
					got[i] = v
				}()
			}
			wg.Wait()

			for _, v := range got {
				require.Equal(t, got[0], v)
			}
		})
	}
}

type failingStore struct{ kv.Store }

func (failingStore) Get(context.Context, string) (kv.Entry, error) {
	return kv.Entry{}, errors.New("unavailable")
}

func TestKVStore_Errors(t *testing.T) {
	p := New(Options{Store: NewKVStore(failingStore{kv.NewMemStore()}, KVStoreOptions{CacheSize: -1}), Log: discard})
	p.SetPartitionFunction(Const(0))
	_, err := p.Partition(t.Context(), "k")
	require.ErrorContains(t, err, "unavailable")
}

func TestKVStore_SharedBackend(t *testing.T) {
	backend := kv.NewMemStore()
	a := New(Options{Store: NewKVStore(backend, KVStoreOptions{}), Log: discard})
	b := New(Options{Store: NewKVStore(backend, KVStoreOptions{}), Log: discard})
	a.SetPartitionFunction(Const(3))
	b.SetPartitionFunction(Const(7))

	got, err := a.Partition(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, 3, got)

	got, err = b.Partition(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, 3, got, "second process sees the first assignment")
}

func TestFuncs(t *testing.T) {
	keys := make([]string, 500)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	for name, fn := range map[string]Func{
		"modulo":     Modulo(8),
		"hashed":     Hashed(8, "s"),
		"rendezvous": Rendezvous(8, "s"),
	} {
		t.Run(name, func(t *testing.T) {
			seen := map[int]int{}
			for _, k := range keys {
				p := fn(k)
				require.GreaterOrEqual(t, p, 0)
				require.Less(t, p, 8)
				require.Equal(t, p, fn(k))
				seen[p]++
			}
			require.Len(t, seen, 8)
		})
	}

	require.Equal(t, 5, Const(5)("anything"))
	require.Equal(t, 0, Rendezvous(0, "")("k"))
}

func TestRendezvous_GrowthMovesFewKeys(t *testing.T) {
	before, after := Rendezvous(8, ""), Rendezvous(9, "")
	moved := 0
	for i := range 2000 {
		k := fmt.Sprintf("k%d", i)
		if before(k) != after(k) {
			moved++
			require.Equal(t, 8, after(k), "keys only move to the new partition")
		}
	}
	require.Less(t, moved, 2000/9*2)
}
