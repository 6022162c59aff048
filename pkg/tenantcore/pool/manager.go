// Package pool implements the per-tenant per-database connection pool
// manager (C4): a concurrent keyed registry of pools, one per PoolKey,
// that lazily creates, shares, health-checks, and disposes of them.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/tenantfabric/core/internal/telemetry"
	"github.com/tenantfabric/core/pkg/tenantcore"
)

var (
	ErrCreationFailed          = errors.New("pool: failed to create pool")
	ErrInvalidConnectionString = errors.New("pool: invalid connection string")
)

const (
	defaultAcquireTimeout = 30 * time.Second
	defaultIdleTimeout    = 600 * time.Second
	maxConnLifetime       = 3600 * time.Second
)

// Stats mirrors the subset of pool statistics the spec promises; Idle may
// be zero if the underlying pool library does not expose it.
type Stats struct {
	Size uint32
	Idle uint32
}

// Manager is a concurrent registry of *pgxpool.Pool keyed by PoolKey.
// Creation for a missing key is serialized per key via singleflight so that
// concurrent first callers never observe two distinct pools for one key.
type Manager struct {
	pools          sync.Map // tenantcore.PoolKey -> *pgxpool.Pool
	lastUsed       sync.Map // tenantcore.PoolKey -> time.Time
	creating       singleflight.Group
	defaultMax     uint32
	defaultMin     uint32
	acquireTimeout time.Duration
	idleTimeout    time.Duration
}

// Defaults configures the manager's fallback sizing and timeouts.
type Defaults struct {
	MaxConnections        uint32
	MinConnections        uint32
	AcquireTimeoutSeconds uint64
	IdleTimeoutSeconds    uint64
}

// New builds a Manager with the given fallback defaults.
func New(d Defaults) *Manager {
	m := &Manager{
		defaultMax:     d.MaxConnections,
		defaultMin:     d.MinConnections,
		acquireTimeout: time.Duration(d.AcquireTimeoutSeconds) * time.Second,
		idleTimeout:    time.Duration(d.IdleTimeoutSeconds) * time.Second,
	}
	if m.defaultMax == 0 {
		m.defaultMax = 10
	}
	if m.defaultMin == 0 {
		m.defaultMin = 2
	}
	if m.acquireTimeout == 0 {
		m.acquireTimeout = defaultAcquireTimeout
	}
	if m.idleTimeout == 0 {
		m.idleTimeout = defaultIdleTimeout
	}
	return m
}

// GetPool returns the shared pool for (config.TenantID, config.DatabaseName),
// creating it on first access. Concurrent first accesses for the same key
// result in exactly one pool being created.
func (m *Manager) GetPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error) {
	key := config.Key()
	m.lastUsed.Store(key, time.Now())

	if existing, ok := m.pools.Load(key); ok {
		return existing.(*pgxpool.Pool), nil
	}

	result, err, _ := m.creating.Do(key.String(), func() (any, error) {
		if existing, ok := m.pools.Load(key); ok {
			return existing.(*pgxpool.Pool), nil
		}
		created, err := m.createPool(ctx, config)
		if err != nil {
			return nil, err
		}
		m.pools.Store(key, created)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*pgxpool.Pool), nil
}

func (m *Manager) createPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	maxConns := config.MaxConnections
	if maxConns == 0 {
		maxConns = m.defaultMax
	}
	minConns := config.MinConnections
	if minConns == 0 {
		minConns = m.defaultMin
	}
	if minConns > maxConns {
		minConns = maxConns
	}

	pgCfg.MaxConns = int32(maxConns)
	pgCfg.MinConns = int32(minConns)
	pgCfg.MaxConnLifetime = maxConnLifetime
	pgCfg.MaxConnIdleTime = m.idleTimeout
	pgCfg.ConnConfig.RuntimeParams["application_name"] = fmt.Sprintf("tenant-%s-%s", config.TenantID, config.DatabaseName)
	pgCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	created, err := pgxpool.NewWithConfig(acquireCtx, pgCfg)
	if err != nil {
		telemetry.PoolCreationFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	telemetry.PoolCreationsTotal.Inc()
	return created, nil
}

// ClosePool removes and gracefully closes the pool if present. Idempotent.
func (m *Manager) ClosePool(tenantID tenantcore.TenantId, databaseName string) {
	key := tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName}
	if p, ok := m.pools.LoadAndDelete(key); ok {
		p.(*pgxpool.Pool).Close()
		m.lastUsed.Delete(key)
	}
}

// CloseAllTenantPools closes every pool whose key's tenant matches and
// returns the count closed.
func (m *Manager) CloseAllTenantPools(tenantID tenantcore.TenantId) int {
	var toClose []tenantcore.PoolKey
	m.pools.Range(func(k, _ any) bool {
		key := k.(tenantcore.PoolKey)
		if key.TenantID == tenantID {
			toClose = append(toClose, key)
		}
		return true
	})
	for _, key := range toClose {
		if p, ok := m.pools.LoadAndDelete(key); ok {
			p.(*pgxpool.Pool).Close()
			m.lastUsed.Delete(key)
		}
	}
	return len(toClose)
}

// GetPoolStats returns stats for a live pool, or false if no pool exists
// for the key.
func (m *Manager) GetPoolStats(tenantID tenantcore.TenantId, databaseName string) (Stats, bool) {
	key := tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName}
	v, ok := m.pools.Load(key)
	if !ok {
		return Stats{}, false
	}
	stat := v.(*pgxpool.Pool).Stat()
	return Stats{Size: uint32(stat.TotalConns()), Idle: uint32(stat.IdleConns())}, true
}

// ActivePoolsCount returns the number of live registry entries.
func (m *Manager) ActivePoolsCount() int {
	count := 0
	m.pools.Range(func(_, _ any) bool { count++; return true })
	return count
}

// HealthCheck obtains the pool for config and executes a trivial query,
// without mutating registry state beyond the usual lazy creation.
func (m *Manager) HealthCheck(ctx context.Context, config *tenantcore.TenantConfig) error {
	p, err := m.GetPool(ctx, config)
	if err != nil {
		return err
	}
	var one int
	return p.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// EvictIdlePools closes pools that have been at minimum size (no conns
// currently acquired) and unused for longer than maxIdle. It never closes a
// pool with in-flight acquisitions.
func (m *Manager) EvictIdlePools(maxIdle time.Duration) int {
	now := time.Now()
	var toEvict []tenantcore.PoolKey
	m.pools.Range(func(k, v any) bool {
		key := k.(tenantcore.PoolKey)
		p := v.(*pgxpool.Pool)
		if p.Stat().AcquiredConns() > 0 {
			return true
		}
		lastUsedVal, ok := m.lastUsed.Load(key)
		if !ok {
			return true
		}
		if now.Sub(lastUsedVal.(time.Time)) > maxIdle {
			toEvict = append(toEvict, key)
		}
		return true
	})
	for _, key := range toEvict {
		if p, ok := m.pools.LoadAndDelete(key); ok {
			p.(*pgxpool.Pool).Close()
			m.lastUsed.Delete(key)
		}
	}
	return len(toEvict)
}

// CloseAll closes every pool in the registry, for graceful shutdown.
func (m *Manager) CloseAll() {
	m.pools.Range(func(k, v any) bool {
		v.(*pgxpool.Pool).Close()
		m.pools.Delete(k)
		return true
	})
}
