package cache

import "time"

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

// WithTTL expires the entry ttl after the put. It overrides LRUOpts.TTL.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

type Cache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, val V, opts ...PutOption)
	Delete(key string)
}
