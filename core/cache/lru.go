package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultSize = 128

type LRUOpts struct {
	// Size bounds the number of entries (default 128).
	Size int
	// TTL is the default entry lifetime. Zero keeps entries until evicted.
	TTL time.Duration
	// Now is the time source for expiry (default time.Now).
	Now func() time.Time
}

type entry[V any] struct {
	key       string
	val       V
	expiresAt time.Time
}

// LRU is safe for concurrent use.
type LRU[V any] struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU[V any](opts LRUOpts) *LRU[V] {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU[V]{
		size:  opts.Size,
		ttl:   opts.TTL,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element),
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
	if !e.expiresAt.IsZero() && !l.now().Before(e.expiresAt) {
		l.remove(ele)
		return v, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU[V]) Put(key string, val V, opts ...PutOption) {
	o := PutOptions{TTL: l.ttl}
	for _, opt := range opts {
		opt(&o)
	}
	var expiresAt time.Time
	if o.TTL > 0 {
		expiresAt = l.now().Add(o.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry[V])
		e.val, e.expiresAt = val, expiresAt
		l.ll.MoveToFront(ele)
		return
	}
	l.items[key] = l.ll.PushFront(&entry[V]{key: key, val: val, expiresAt: expiresAt})
	if l.ll.Len() > l.size {
		l.remove(l.ll.Back())
	}
}

func (l *LRU[V]) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.remove(ele)
	}
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU[V]) remove(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry[V]).key)
}

var _ Cache[any] = (*LRU[any])(nil)
