// Package tenantcore is the multi-tenant database fabric: a per-request
// resolver that turns a bearer token into a set of ready-to-use per-database
// connection pools, backed by a three-tier configuration cache, encrypted
// credentials at rest, and a pub/sub invalidation protocol.
package tenantcore

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantId is the opaque identifier of a tenant.
type TenantId uuid.UUID

// NewTenantId generates a random tenant id.
func NewTenantId() TenantId {
	return TenantId(uuid.New())
}

// ParseTenantId parses the canonical textual form of a TenantId.
func ParseTenantId(s string) (TenantId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantId{}, fmt.Errorf("tenantcore: invalid tenant id %q: %w", s, err)
	}
	return TenantId(id), nil
}

func (t TenantId) String() string {
	return uuid.UUID(t).String()
}

// TenantStatus is the tagged status of a tenant/database row. Only Active is
// admissible at request time.
type TenantStatus string

const (
	StatusProvisioning TenantStatus = "provisioning"
	StatusActive       TenantStatus = "active"
	StatusSuspended    TenantStatus = "suspended"
	StatusDeactivated  TenantStatus = "deactivated"
)

// ParseTenantStatus decodes the lowercase catalog tag.
func ParseTenantStatus(s string) (TenantStatus, error) {
	switch TenantStatus(s) {
	case StatusProvisioning, StatusActive, StatusSuspended, StatusDeactivated:
		return TenantStatus(s), nil
	default:
		return "", fmt.Errorf("tenantcore: invalid tenant status %q", s)
	}
}

// DatabaseName is a short identifier of a logical database within a tenant,
// e.g. "products", "orders". Unique per tenant.
type DatabaseName = string

// PoolKey identifies a single physical connection pool. Two configs with
// equal PoolKey must map to the same live pool.
type PoolKey struct {
	TenantID     TenantId
	DatabaseName DatabaseName
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s:%s", k.TenantID, k.DatabaseName)
}

// TenantConfig is the authoritative runtime record resolved for a
// (tenant, database) pair. It is immutable once handed to a caller; updates
// are modeled by replacing the cached entry, never by mutating this value.
type TenantConfig struct {
	TenantID         TenantId
	TenantName       string
	DatabaseName     DatabaseName
	ConnectionString string
	Status           TenantStatus
	MaxConnections   uint32
	MinConnections   uint32
}

// IsActive reports whether the tenant is admissible at request time.
func (c *TenantConfig) IsActive() bool {
	return c.Status == StatusActive
}

// Key returns the PoolKey this config resolves to.
func (c *TenantConfig) Key() PoolKey {
	return PoolKey{TenantID: c.TenantID, DatabaseName: c.DatabaseName}
}

// CacheKey is the stable, human-readable L2 key for this config.
func (c *TenantConfig) CacheKey() string {
	return CacheKeyFor(c.TenantID, c.DatabaseName)
}

// CacheKeyFor builds the L2 key for a (tenant, database) pair without
// requiring a resolved TenantConfig.
func CacheKeyFor(tenantID TenantId, databaseName DatabaseName) string {
	return fmt.Sprintf("tenant:%s:%s:config", tenantID, databaseName)
}

// DatabaseConfig is a database a microservice declares it needs, with a
// per-database sizing. The pool manager does not read MaxConnections or
// MinConnections from here: when the catalog leaves the sizing columns
// empty it substitutes the manager-wide defaults set by
// Builder.WithPoolDefaults. The first DatabaseConfig a service declares is
// its primary database: the only one whose resolved configs are cached at
// L1.
type DatabaseConfig struct {
	Name           DatabaseName
	MaxConnections uint32
	MinConnections uint32
}

// DefaultDatabaseConfig returns the conventional 10/2 sizing for a database
// name, mirroring DatabaseConfig::default() in the originating crate.
func DefaultDatabaseConfig(name DatabaseName) DatabaseConfig {
	return DatabaseConfig{Name: name, MaxConnections: 10, MinConnections: 2}
}

// CoreStats is the aggregate health/stat snapshot exposed by the facade.
type CoreStats struct {
	CacheEntries      uint64
	CacheWeightedSize uint64
	ActivePools       int
}
