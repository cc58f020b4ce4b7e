// Package kv is the key/value port the partitioner remembers assignments in.
package kv

import (
	"context"
	"errors"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/internal/codec"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("key exists")
)

type Entry struct {
	Data     []byte
	Revision uint64
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, data []byte) error
	// Create stores data only if key is absent and fails with ErrExists
	// otherwise. Implementations must make this atomic.
	Create(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

var defaultCodec codec.Codec = codec.JSON{}

func Put[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := defaultCodec.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

func Create[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := defaultCodec.Marshal(v)
	if err != nil {
		return err
	}
	return store.Create(ctx, key, data)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	err = defaultCodec.Unmarshal(entry.Data, &out)
	return out, err
}
