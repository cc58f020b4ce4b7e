package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// MaxBytes caps the bucket size. Zero means 8 MiB.
	MaxBytes int64
	// Replicas defaults to 1.
	Replicas int
}

// KvStore is a kv.Store on a JetStream key/value bucket. Keys are base64url
// encoded so that any string is a legal subject token.
type KvStore struct {
	kv    jetstream.KeyValue
	close func()
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 * 1024 * 1024
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: cfg.MaxBytes,
		Replicas: cfg.Replicas,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{kv: bucket, close: closeConn}, nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := k.kv.Put(ctx, encodeKey(key), data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Create(ctx context.Context, key string, data []byte) error {
	if _, err := k.kv.Create(ctx, encodeKey(key), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return kv.ErrExists
		}
		return fmt.Errorf("create %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the connection lease.
func (k *KvStore) Close() {
	if k.close != nil {
		k.close()
	}
}

var _ kv.Store = (*KvStore)(nil)
