// Package kv is the two-tier KV cache (component B): an in-process
// patrickmn/go-cache L1 in front of the durable store.Store KV table. Every
// consumer (auth token validation, identifier resolution, judging
// aggregation) shares this one cache so invalidation rules live in one place.
package kv

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oj-federate/rmjac/internal/store"
)

// Cache is a read-through, write-through two-tier KV cache.
type Cache struct {
	local *gocache.Cache
	store store.Store
}

// New creates a Cache. localTTL bounds how long an entry stays in the
// in-process tier even if the durable TTL is longer (or zero/never);
// localCleanup is how often go-cache sweeps expired entries.
func New(st store.Store, localTTL, localCleanup time.Duration) *Cache {
	return &Cache{
		local: gocache.New(localTTL, localCleanup),
		store: st,
	}
}

// Get returns (value, true, nil) on a hit (local or durable), (_, false,
// nil) on a clean miss, or an error from the durable tier.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := c.local.Get(key); ok {
		return v.(string), true, nil
	}

	v, err := c.store.KVGet(ctx, key)
	if err == store.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	c.local.SetDefault(key, v)
	return v, true, nil
}

// Set writes through to the durable tier and refreshes the local tier.
// ttl==0 means "does not expire" at the durable tier.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.store.KVSet(ctx, key, value, ttl); err != nil {
		return err
	}

	if ttl > 0 {
		c.local.Set(key, value, ttl)
	} else {
		c.local.SetDefault(key, value)
	}
	return nil
}

// Delete invalidates both tiers. Used whenever an Iden edge changes at or
// below a cached prefix, or a subtask tree mutates under a cached aggregate.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Delete(key)
	return c.store.KVDelete(ctx, key)
}
