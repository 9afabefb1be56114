package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache keeps entries in process. Expired entries are invisible to Get
// and reclaimed by the ttlcache janitor.
type MemoryCache struct {
	store *ttlcache.Cache[string, []byte]
}

// NewMemoryCache creates a memory cache and starts its cleanup goroutine.
func NewMemoryCache() *MemoryCache {
	store := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go store.Start()
	return &MemoryCache{store: store}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := c.store.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.store.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.store.Len()
}

func (c *MemoryCache) Close() error {
	c.store.Stop()
	return nil
}
