// Package redis is a kv.Store on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/codewandler/identity-go/ports/kv"
)

const defaultNamespace = "identity:"

type Config struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key (default "identity:").
	Namespace string
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// KVStore keeps each entry as a plain string value under namespace+key.
type KVStore struct {
	rdb redis.UniversalClient
	ns  string
}

func NewKVStore(rdb redis.UniversalClient, namespace string) *KVStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &KVStore{rdb: rdb, ns: namespace}
}

// Open connects with cfg and checks the server answers.
func Open(ctx context.Context, cfg Config) (*KVStore, error) {
	rdb := NewClient(cfg)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewKVStore(rdb, cfg.Namespace), nil
}

func (s *KVStore) Close() error { return s.rdb.Close() }

func (s *KVStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.ns+key, entry.Data, opts.TTL).Err()
}

func (s *KVStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := s.rdb.Get(ctx, s.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: data}, nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.ns+key).Err()
}

// Keys walks the keyspace with SCAN. Valid keys hold no glob characters, so
// the prefix needs no escaping.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.ns+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.ns))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var _ kv.Store = (*KVStore)(nil)
