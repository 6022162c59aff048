package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenantfabric/core/pkg/tenantcore"
)

// Resolver is the subset of cache.Resolver the default handler needs.
type Resolver interface {
	Invalidate(ctx context.Context, tenantID tenantcore.TenantId, databaseName string)
	Preload(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) error
}

// PoolManager is the subset of pool.Manager the default handler needs.
type PoolManager interface {
	GetPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error)
	ClosePool(tenantID tenantcore.TenantId, databaseName string)
	CloseAllTenantPools(tenantID tenantcore.TenantId) int
}

// DefaultHandler implements the default dispatch semantics described in
// spec §4.5: DatabaseCreated preloads and warms a pool, DatabaseUpdated and
// DatabaseDeactivated invalidate and close the pool so the next request
// re-resolves, TenantCreated fans out to DatabaseCreated for each declared
// database, and TenantDeactivated closes every pool for the tenant.
type DefaultHandler struct {
	Resolver    Resolver
	Pools       PoolManager
	Declared    []tenantcore.DatabaseConfig
	// Warm fetches a fresh TenantConfig so a pool can be warmed on
	// DatabaseCreated/TenantCreated. Typically the catalog client.
	Warm func(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error)
}

func (h *DefaultHandler) OnTenantCreated(ctx context.Context, e *TenantCreatedEvent) error {
	for _, db := range e.Databases {
		if err := h.warmDatabase(ctx, e.TenantID, db); err != nil {
			return err
		}
	}
	return nil
}

func (h *DefaultHandler) OnTenantDeactivated(ctx context.Context, e *TenantDeactivatedEvent) error {
	h.Pools.CloseAllTenantPools(e.TenantID)
	for _, db := range h.Declared {
		h.Resolver.Invalidate(ctx, e.TenantID, db.Name)
	}
	return nil
}

func (h *DefaultHandler) OnDatabaseCreated(ctx context.Context, e *DatabaseCreatedEvent) error {
	return h.warmDatabase(ctx, e.TenantID, e.DatabaseName)
}

func (h *DefaultHandler) OnDatabaseUpdated(ctx context.Context, e *DatabaseUpdatedEvent) error {
	h.Resolver.Invalidate(ctx, e.TenantID, e.DatabaseName)
	h.Pools.ClosePool(e.TenantID, e.DatabaseName)
	return nil
}

func (h *DefaultHandler) OnDatabaseDeactivated(ctx context.Context, e *DatabaseDeactivatedEvent) error {
	h.Resolver.Invalidate(ctx, e.TenantID, e.DatabaseName)
	h.Pools.ClosePool(e.TenantID, e.DatabaseName)
	return nil
}

func (h *DefaultHandler) warmDatabase(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) error {
	if err := h.Resolver.Preload(ctx, tenantID, databaseName); err != nil {
		return err
	}
	if h.Warm == nil {
		return nil
	}
	config, err := h.Warm(ctx, tenantID, databaseName)
	if err != nil {
		return err
	}
	_, err = h.Pools.GetPool(ctx, config)
	return err
}
