// Package cache implements the hybrid cache resolver (C3): a three-tier
// lookup across an in-process LRU (L1), a distributed Redis cache (L2), and
// the authoritative catalog (L3), with well-defined population, eviction,
// and invalidation semantics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tenantfabric/core/internal/telemetry"
	"github.com/tenantfabric/core/pkg/tenantcore"
	"github.com/tenantfabric/core/pkg/tenantcore/catalog"
)

// ErrResolver wraps any failure surfaced by Resolve after L1/L2 have been
// exhausted; it wraps the underlying catalog error.
var ErrResolver = errors.New("cache: resolution failed")

// Source is the L3 tier: anything that can fetch an authoritative
// TenantConfig. *catalog.Client satisfies this.
type Source interface {
	Fetch(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error)
}

// Config enumerates the resolver's tuning knobs, matching spec §4.3/§4.8.
type Config struct {
	EnableL1       bool
	L1MaxEntries   int
	L1TTLSeconds   uint64
	L1IdleTTL      uint64
	EnableL2       bool
	L2Endpoint     string
	L2TTLSeconds   uint64
	PrimaryDBName  string
}

// Resolver owns the hybrid lookup. L1 is only consulted/populated for the
// microservice's primary database; L2 is consulted/populated regardless.
type Resolver struct {
	l1         *l1Cache
	redis      *redis.Client
	source     Source
	primaryDB  string
	l2TTL      time.Duration
	logger     *slog.Logger
	fetchGroup singleflight.Group
}

// New builds a Resolver. source is typically a *catalog.Client; redisClient
// may be nil when L2 is disabled.
func New(cfg Config, source Source, redisClient *redis.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		source:    source,
		primaryDB: cfg.PrimaryDBName,
		l2TTL:     time.Duration(cfg.L2TTLSeconds) * time.Second,
		logger:    logger,
	}
	if cfg.EnableL1 {
		r.l1 = newL1Cache(cfg.L1MaxEntries, time.Duration(cfg.L1TTLSeconds)*time.Second, time.Duration(cfg.L1IdleTTL)*time.Second)
	}
	if cfg.EnableL2 {
		r.redis = redisClient
	}
	return r
}

func (r *Resolver) isPrimary(databaseName string) bool {
	return databaseName == r.primaryDB
}

// Resolve implements the L1 → L2 → L3 state machine described in spec §4.3.
func (r *Resolver) Resolve(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error) {
	start := time.Now()
	defer func() {
		telemetry.CacheResolutionDuration.WithLabelValues(databaseName).Observe(time.Since(start).Seconds())
	}()

	key := tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName}
	primary := r.isPrimary(databaseName)

	if primary && r.l1 != nil {
		if config, ok := r.l1.get(key); ok {
			r.logger.Debug("cache: L1 hit", "tenant_id", tenantID.String(), "database", databaseName)
			telemetry.CacheLookupsTotal.WithLabelValues("l1").Inc()
			return config, nil
		}
	}

	if r.redis != nil {
		if config, ok := r.getL2(ctx, tenantID, databaseName); ok {
			r.logger.Debug("cache: L2 hit", "tenant_id", tenantID.String(), "database", databaseName)
			if primary && r.l1 != nil {
				r.l1.insert(key, config)
			}
			telemetry.CacheLookupsTotal.WithLabelValues("l2").Inc()
			return config, nil
		}
	}

	r.logger.Debug("cache: L3 lookup", "tenant_id", tenantID.String(), "database", databaseName)
	// Deduplicate concurrent first-resolves for the same key into a single
	// L3 fetch and a single populate, matching the pool manager's
	// single-flight discipline for pool creation.
	result, err, _ := r.fetchGroup.Do(key.String(), func() (any, error) {
		// A caller that missed L1 while an earlier flight was populating it
		// must not start a second L3 fetch.
		if primary && r.l1 != nil {
			if config, ok := r.l1.get(key); ok {
				return config, nil
			}
		}
		config, err := r.source.Fetch(ctx, tenantID, databaseName)
		if err != nil {
			return nil, err
		}
		r.populate(ctx, key, config, primary)
		return config, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolver, err)
	}
	telemetry.CacheLookupsTotal.WithLabelValues("l3").Inc()
	return result.(*tenantcore.TenantConfig), nil
}

func (r *Resolver) getL2(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, bool) {
	raw, err := r.redis.Get(ctx, tenantcore.CacheKeyFor(tenantID, databaseName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("cache: L2 read error, degrading to L3", "error", err)
		return nil, false
	}
	var config tenantcore.TenantConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		r.logger.Warn("cache: L2 decode error, degrading to L3", "error", err)
		return nil, false
	}
	return &config, true
}

func (r *Resolver) populate(ctx context.Context, key tenantcore.PoolKey, config *tenantcore.TenantConfig, primary bool) {
	if primary && r.l1 != nil {
		r.l1.insert(key, config)
	}
	if r.redis != nil {
		payload, err := json.Marshal(config)
		if err != nil {
			r.logger.Warn("cache: L2 marshal error", "error", err)
			return
		}
		if err := r.redis.Set(ctx, config.CacheKey(), payload, r.l2TTL).Err(); err != nil {
			r.logger.Warn("cache: L2 write-back error", "error", err)
		}
	}
}

// Invalidate removes the L1 entry (if the database is primary) and deletes
// the L2 key. L2 failures are logged, not surfaced.
func (r *Resolver) Invalidate(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) {
	key := tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName}
	if r.isPrimary(databaseName) && r.l1 != nil {
		r.l1.invalidate(key)
	}
	if r.redis != nil {
		if err := r.redis.Del(ctx, tenantcore.CacheKeyFor(tenantID, databaseName)).Err(); err != nil {
			r.logger.Warn("cache: L2 invalidation error", "error", err)
		}
	}
}

// InvalidateMany invalidates every pair in order.
func (r *Resolver) InvalidateMany(ctx context.Context, keys []tenantcore.PoolKey) {
	for _, k := range keys {
		r.Invalidate(ctx, k.TenantID, k.DatabaseName)
	}
}

// Preload forces an L3 fetch and populates both tiers.
func (r *Resolver) Preload(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) error {
	config, err := r.source.Fetch(ctx, tenantID, databaseName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolver, err)
	}
	key := tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName}
	r.populate(ctx, key, config, r.isPrimary(databaseName))
	return nil
}

// Stats returns (entry_count, weighted_size) for L1; zero if L1 is disabled.
func (r *Resolver) Stats() (entries, weightedSize uint64) {
	if r.l1 == nil {
		return 0, 0
	}
	return r.l1.stats()
}

// HealthCheck pings L2 (if enabled) and the L3 source.
func (r *Resolver) HealthCheck(ctx context.Context, probe func(context.Context) error) error {
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("cache: L2 health check failed: %w", err)
		}
	}
	if probe != nil {
		if err := probe(ctx); err != nil {
			return fmt.Errorf("cache: L3 health check failed: %w", err)
		}
	}
	return nil
}

// Close stops the L1 background sweep, if running.
func (r *Resolver) Close() {
	if r.l1 != nil {
		r.l1.close()
	}
}

var _ Source = (*catalog.Client)(nil)
