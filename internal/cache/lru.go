package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dharsanguruparan/VKYCVault/internal/metrics"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// LRU is a per-process snapshot cache with a fixed size and TTL.
type LRU struct {
	cache *expirable.LRU[string, *model.Snapshot]
}

// NewLRU creates a cache holding at most size snapshots for ttl each.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{cache: expirable.NewLRU[string, *model.Snapshot](size, nil, ttl)}
}

// Get returns the cached snapshot for requestID.
func (c *LRU) Get(_ context.Context, requestID string) (*model.Snapshot, bool) {
	snap, ok := c.cache.Get(requestID)
	if ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return snap, true
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()
	return nil, false
}

// Put adds or replaces the snapshot for requestID.
func (c *LRU) Put(_ context.Context, requestID string, snap *model.Snapshot) {
	c.cache.Add(requestID, snap)
}

// Delete drops requestID from the cache.
func (c *LRU) Delete(_ context.Context, requestID string) {
	c.cache.Remove(requestID)
}
