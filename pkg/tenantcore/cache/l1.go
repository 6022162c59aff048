package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tenantfabric/core/pkg/tenantcore"
)

// l1Entry wraps a cached config with the timestamps needed for absolute-TTL
// and idle-TTL eviction; golang-lru/v2 bounds the set by count but has no
// notion of time, so this package layers TTL tracking on top of it.
type l1Entry struct {
	config    *tenantcore.TenantConfig
	storedAt  time.Time
	touchedAt time.Time
}

// l1Cache is the process-local L1 tier: a size-bounded LRU keyed by PoolKey,
// with absolute and idle TTL enforced by a background sweep.
type l1Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[tenantcore.PoolKey, *l1Entry]
	ttl      time.Duration
	idleTTL  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

func newL1Cache(maxEntries int, ttl, idleTTL time.Duration) *l1Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	backing, _ := lru.New[tenantcore.PoolKey, *l1Entry](maxEntries)
	c := &l1Cache{lru: backing, ttl: ttl, idleTTL: idleTTL, stop: make(chan struct{})}
	go c.sweepLoop()
	return c
}

func (c *l1Cache) sweepLoop() {
	interval := c.idleTTL
	if c.ttl > 0 && (interval == 0 || c.ttl < interval) {
		interval = c.ttl
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *l1Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if c.expired(entry, now) {
			c.lru.Remove(key)
		}
	}
}

func (c *l1Cache) expired(entry *l1Entry, now time.Time) bool {
	if c.ttl > 0 && now.Sub(entry.storedAt) > c.ttl {
		return true
	}
	if c.idleTTL > 0 && now.Sub(entry.touchedAt) > c.idleTTL {
		return true
	}
	return false
}

func (c *l1Cache) get(key tenantcore.PoolKey) (*tenantcore.TenantConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	now := time.Now()
	if c.expired(entry, now) {
		c.lru.Remove(key)
		return nil, false
	}
	entry.touchedAt = now
	return entry.config, true
}

func (c *l1Cache) insert(key tenantcore.PoolKey, config *tenantcore.TenantConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.lru.Add(key, &l1Entry{config: config, storedAt: now, touchedAt: now})
}

func (c *l1Cache) invalidate(key tenantcore.PoolKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *l1Cache) stats() (entries uint64, weightedSize uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	return uint64(n), uint64(n)
}

func (c *l1Cache) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
