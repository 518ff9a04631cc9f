// Package cache provides in-memory caching of slow lookups such as the
// yt-dlp version reported by the health check.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const versionKey = "ytdlp:version"

// VersionFunc looks up the current tool version.
type VersionFunc func(ctx context.Context) (string, error)

// VersionCache caches the yt-dlp version so that health checks don't spawn a
// process each time.
type VersionCache struct {
	cache  *gocache.Cache
	lookup VersionFunc
	mu     sync.Mutex
}

// NewVersionCache creates a VersionCache with the given TTL.
func NewVersionCache(lookup VersionFunc, ttl time.Duration) *VersionCache {
	return &VersionCache{
		cache:  gocache.New(ttl, 2*ttl),
		lookup: lookup,
	}
}

// Version returns the cached version, looking it up when missing or expired.
// Failed lookups are not cached.
func (c *VersionCache) Version(ctx context.Context) (string, error) {
	if v, found := c.cache.Get(versionKey); found {
		return v.(string), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have filled it while we waited.
	if v, found := c.cache.Get(versionKey); found {
		return v.(string), nil
	}

	version, err := c.lookup(ctx)
	if err != nil {
		return "", err
	}

	c.cache.Set(versionKey, version, gocache.DefaultExpiration)
	return version, nil
}

// Invalidate drops the cached version.
func (c *VersionCache) Invalidate() {
	c.cache.Delete(versionKey)
}
