package assets

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachedResolver memoizes successful fetches and collapses concurrent
// requests for the same URL into a single upstream call. Failures are not
// cached; a later fetch may still succeed.
type CachedResolver struct {
	inner Resolver
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string][]byte
}

// NewCachedResolver wraps a resolver with an in-memory cache.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{
		inner:   inner,
		entries: make(map[string][]byte),
	}
}

// Resolve returns cached bytes when present, otherwise fetches through the
// inner resolver exactly once per URL regardless of caller concurrency.
func (c *CachedResolver) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.entries[rawURL]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	ch := c.group.DoChan(rawURL, func() (interface{}, error) {
		fetched, err := c.inner.Resolve(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[rawURL] = fetched
		c.mu.Unlock()
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Len reports how many URLs are cached.
func (c *CachedResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
