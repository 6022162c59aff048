package events

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenantfabric/core/pkg/tenantcore"
)

type fakeResolver struct {
	invalidated []tenantcore.PoolKey
	preloaded   []tenantcore.PoolKey
}

func (f *fakeResolver) Invalidate(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) {
	f.invalidated = append(f.invalidated, tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName})
}

func (f *fakeResolver) Preload(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) error {
	f.preloaded = append(f.preloaded, tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName})
	return nil
}

type fakePools struct {
	closed       []tenantcore.PoolKey
	closedTenant []tenantcore.TenantId
	warmed       int
}

func (f *fakePools) GetPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error) {
	f.warmed++
	return nil, nil
}

func (f *fakePools) ClosePool(tenantID tenantcore.TenantId, databaseName string) {
	f.closed = append(f.closed, tenantcore.PoolKey{TenantID: tenantID, DatabaseName: databaseName})
}

func (f *fakePools) CloseAllTenantPools(tenantID tenantcore.TenantId) int {
	f.closedTenant = append(f.closedTenant, tenantID)
	return 2
}

func TestDefaultHandlerDatabaseUpdatedInvalidatesAndClosesPool(t *testing.T) {
	resolver := &fakeResolver{}
	pools := &fakePools{}
	h := &DefaultHandler{Resolver: resolver, Pools: pools}

	tenantID := tenantcore.NewTenantId()
	err := h.OnDatabaseUpdated(context.Background(), &DatabaseUpdatedEvent{TenantID: tenantID, DatabaseName: "products"})
	if err != nil {
		t.Fatalf("OnDatabaseUpdated: %v", err)
	}

	if len(resolver.invalidated) != 1 || resolver.invalidated[0].DatabaseName != "products" {
		t.Errorf("expected one invalidation for products, got %v", resolver.invalidated)
	}
	if len(pools.closed) != 1 || pools.closed[0].DatabaseName != "products" {
		t.Errorf("expected one pool close for products, got %v", pools.closed)
	}
}

func TestDefaultHandlerTenantDeactivatedClosesAllAndInvalidatesDeclared(t *testing.T) {
	resolver := &fakeResolver{}
	pools := &fakePools{}
	h := &DefaultHandler{
		Resolver: resolver,
		Pools:    pools,
		Declared: []tenantcore.DatabaseConfig{{Name: "products"}, {Name: "orders"}},
	}

	tenantID := tenantcore.NewTenantId()
	if err := h.OnTenantDeactivated(context.Background(), &TenantDeactivatedEvent{TenantID: tenantID}); err != nil {
		t.Fatalf("OnTenantDeactivated: %v", err)
	}

	if len(pools.closedTenant) != 1 || pools.closedTenant[0] != tenantID {
		t.Errorf("expected CloseAllTenantPools called once for %s, got %v", tenantID, pools.closedTenant)
	}
	if len(resolver.invalidated) != 2 {
		t.Errorf("expected invalidation of both declared databases, got %v", resolver.invalidated)
	}
}

func TestDefaultHandlerTenantCreatedWarmsEachDatabase(t *testing.T) {
	resolver := &fakeResolver{}
	pools := &fakePools{}
	warmCalls := 0
	h := &DefaultHandler{
		Resolver: resolver,
		Pools:    pools,
		Warm: func(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error) {
			warmCalls++
			return &tenantcore.TenantConfig{TenantID: tenantID, DatabaseName: databaseName}, nil
		},
	}

	tenantID := tenantcore.NewTenantId()
	err := h.OnTenantCreated(context.Background(), &TenantCreatedEvent{
		TenantID:  tenantID,
		Databases: []string{"products", "orders"},
	})
	if err != nil {
		t.Fatalf("OnTenantCreated: %v", err)
	}
	if len(resolver.preloaded) != 2 {
		t.Errorf("expected 2 preloads, got %d", len(resolver.preloaded))
	}
	if warmCalls != 2 || pools.warmed != 2 {
		t.Errorf("expected 2 pool warms, got warmCalls=%d pools.warmed=%d", warmCalls, pools.warmed)
	}
}
