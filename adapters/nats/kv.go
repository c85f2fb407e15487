package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/identity-go/ports/kv"
)

const defaultBucket = "identity_read_model"

var ErrPerKeyTTL = errors.New("nats kv: per-key ttl is not supported, set KVConfig.TTL")

type KVConfig struct {
	Connect Connector
	Bucket  string
	// TTL applies to every key of the bucket. Zero keeps keys forever.
	TTL time.Duration
	// MemoryStorage keeps the bucket in server memory, for tests.
	MemoryStorage bool
}

// KVStore is a kv.Store on a JetStream key/value bucket.
type KVStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKVStore(ctx context.Context, cfg KVConfig) (*KVStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	store, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: storage,
		TTL:     cfg.TTL,
		History: 1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}

	return &KVStore{kv: store, closeNc: closeNc}, nil
}

func (k *KVStore) Close() error {
	k.closeNc()
	return nil
}

func (k *KVStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if opts.TTL > 0 {
		return ErrPerKeyTTL
	}
	_, err := k.kv.Put(ctx, key, entry.Data)
	return err
}

func (k *KVStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: v.Value()}, nil
}

func (k *KVStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys lists the bucket and filters client side. Key prefixes do not end on
// a subject token boundary, so a server side filter cannot express them.
func (k *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

var _ kv.Store = (*KVStore)(nil)
