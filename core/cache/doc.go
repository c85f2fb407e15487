// Package cache is a small in-process key/value cache with LRU eviction and
// optional per-entry expiry.
//
//	c := cache.NewLRU[string](cache.LRUOpts{Size: 1024, TTL: time.Hour})
//	c.Put("ada@example.com", id)
//	if id, ok := c.Get("ada@example.com"); ok {
//	    // id is a string, no type assertion needed
//	}
//
// Expired entries are evicted lazily on access. [Nop] caches nothing and
// stands in where caching is disabled.
package cache
