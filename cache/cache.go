// Package cache implements the block cache described in §5: a concurrent,
// size-bounded cache keyed by (origin blob id, origin offset) so that
// blocks whose bytes are carried forward unchanged across compactions
// share one cache entry across generations.
package cache

import "github.com/dgraph-io/ristretto"

// Key identifies a cached block by where its bytes originated, not by
// where they currently live; a block copied verbatim into a new
// generation keeps the same Key.
type Key struct {
	BlobID uint64
	Offset uint32
}

// Config mirrors ristretto.Config's shape, matching the block-cache
// constructor already used by this lineage's engine package.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	OnEvict     func(key Key)
}

// Cache wraps a ristretto.Cache, translating between the block cache's
// (blobID, offset) key space and ristretto's opaque key hashing.
type Cache struct {
	inner *ristretto.Cache
}

func New(cfg *Config) (*Cache, error) {
	rcfg := &ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	}
	if cfg.OnEvict != nil {
		rcfg.OnEvict = func(item *ristretto.Item) {
			if k, ok := item.Key.(Key); ok {
				cfg.OnEvict(k)
			}
		}
	}
	inner, err := ristretto.NewCache(rcfg)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get, Set, Del and Close all tolerate a nil *Cache (a disabled block
// cache, per MaxBlockCacheSize == 0) as a no-op, so callers never need to
// guard every access with a nil check.

func (c *Cache) Get(key Key) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	return c.inner.Get(key)
}

func (c *Cache) Set(key Key, value interface{}, cost int64) bool {
	if c == nil {
		return false
	}
	return c.inner.Set(key, value, cost)
}

func (c *Cache) Del(key Key) {
	if c == nil {
		return
	}
	c.inner.Del(key)
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.inner.Close()
}
