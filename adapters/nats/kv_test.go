package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/ports/kv"
)

func TestKV(t *testing.T) {
	type record struct {
		Partition int
	}
	store, err := NewKvStore(t.Context(), KvConfig{
		Bucket:  "partitions",
		Connect: NewTestContainer(t),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	key := "users/42 with spaces"
	_, err = kv.Get[record](t.Context(), store, key)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Create(t.Context(), store, key, record{Partition: 3}))
	require.ErrorIs(t, kv.Create(t.Context(), store, key, record{Partition: 7}), kv.ErrExists)

	v, err := kv.Get[record](t.Context(), store, key)
	require.NoError(t, err)
	require.Equal(t, record{Partition: 3}, v)

	require.NoError(t, store.Delete(t.Context(), key))
	_, err = store.Get(t.Context(), key)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Create(t.Context(), store, key, record{Partition: 7}))
}
