// Package tenantcore is the multi-tenant database fabric: it assembles the
// catalog client, the hybrid L1/L2/L3 config resolver, the per-(tenant,
// database) pool manager, the event subscriber wiring, and the request
// middleware into a single entry point (C8), mirroring
// original_source's TenantCoreBuilder/TenantCore one-for-one.
package tenantcore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tenantfabric/core/internal/platform"
	"github.com/tenantfabric/core/pkg/tenantcore/cache"
	"github.com/tenantfabric/core/pkg/tenantcore/catalog"
	"github.com/tenantfabric/core/pkg/tenantcore/crypto"
	"github.com/tenantfabric/core/pkg/tenantcore/middleware"
	"github.com/tenantfabric/core/pkg/tenantcore/pool"
	"github.com/tenantfabric/core/pkg/tenantcore/token"
)

// ErrNoEncryptionSource means neither ENCRYPTION_PASSWORD nor ENCRYPTION_KEY
// is set in the environment.
var ErrNoEncryptionSource = errors.New("tenantcore: neither ENCRYPTION_PASSWORD nor ENCRYPTION_KEY is set")

// ErrNoDatabases means Build was called without declaring at least one
// database via WithDatabases.
var ErrNoDatabases = errors.New("tenantcore: at least one database must be declared")

// ErrRedisURLRequired means the L2 cache is enabled with an empty Redis
// endpoint.
var ErrRedisURLRequired = errors.New("tenantcore: redis endpoint required when L2 cache is enabled")

// Builder assembles a Core. Zero value is not usable; start from New.
type Builder struct {
	catalogDB     *pgxpool.Pool
	encryptionKey []byte
	jwtSecret     string
	databases     []DatabaseConfig

	cacheCfg cache.Config

	poolDefaults pool.Defaults

	logger *slog.Logger

	err error
}

// New starts a Builder from a live catalog database handle and a 32-byte
// encryption key.
func New(catalogDB *pgxpool.Pool, encryptionKey []byte) *Builder {
	b := &Builder{catalogDB: catalogDB, encryptionKey: encryptionKey}
	if len(encryptionKey) != 32 {
		b.err = crypto.ErrInvalidKeyLength
	}
	return b
}

// WithEncryptionFromEnv derives the encryption key from ENCRYPTION_PASSWORD
// (via PBKDF2 with the fixed project salt), falling back to ENCRYPTION_KEY
// read as base64.
func (b *Builder) WithEncryptionFromEnv() *Builder {
	if password, ok := os.LookupEnv("ENCRYPTION_PASSWORD"); ok {
		key := crypto.DeriveKey(password, crypto.ProjectSalt)
		b.encryptionKey = key[:]
		b.err = nil
		return b
	}
	if encoded, ok := os.LookupEnv("ENCRYPTION_KEY"); ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			b.err = fmt.Errorf("tenantcore: decoding ENCRYPTION_KEY: %w", err)
			return b
		}
		if len(key) != 32 {
			b.err = crypto.ErrInvalidKeyLength
			return b
		}
		b.encryptionKey = key
		b.err = nil
		return b
	}
	b.err = ErrNoEncryptionSource
	return b
}

// WithDatabases declares the ordered sequence of logical databases the
// hosting service needs; the first is the primary database.
func (b *Builder) WithDatabases(databases ...DatabaseConfig) *Builder {
	b.databases = databases
	return b
}

// WithLocalCache enables L1. ttl/idleTTL of zero disable the respective
// expiry check.
func (b *Builder) WithLocalCache(maxEntries int, ttl, idleTTL time.Duration) *Builder {
	b.cacheCfg.EnableL1 = true
	b.cacheCfg.L1MaxEntries = maxEntries
	b.cacheCfg.L1TTLSeconds = uint64(ttl.Seconds())
	b.cacheCfg.L1IdleTTL = uint64(idleTTL.Seconds())
	return b
}

// WithRedisCache enables L2 against the given Redis endpoint.
func (b *Builder) WithRedisCache(endpoint string, ttl time.Duration) *Builder {
	b.cacheCfg.EnableL2 = true
	b.cacheCfg.L2Endpoint = endpoint
	b.cacheCfg.L2TTLSeconds = uint64(ttl.Seconds())
	return b
}

// WithPoolDefaults sets the service-wide pool sizing/timeout defaults
// substituted for zero-valued TenantConfig sizing fields.
func (b *Builder) WithPoolDefaults(maxConnections, minConnections uint32, acquireTimeout, idleTimeout time.Duration) *Builder {
	b.poolDefaults = pool.Defaults{
		MaxConnections:        maxConnections,
		MinConnections:        minConnections,
		AcquireTimeoutSeconds: uint64(acquireTimeout.Seconds()),
		IdleTimeoutSeconds:    uint64(idleTimeout.Seconds()),
	}
	return b
}

// WithJWTSecret sets the shared secret used by the bearer token validator.
func (b *Builder) WithJWTSecret(secret string) *Builder {
	b.jwtSecret = secret
	return b
}

// WithLogger overrides the default slog logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build assembles a Core from the accumulated configuration.
func (b *Builder) Build(ctx context.Context) (*Core, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.encryptionKey) != 32 {
		return nil, crypto.ErrInvalidKeyLength
	}
	if len(b.databases) == 0 {
		return nil, ErrNoDatabases
	}
	if b.cacheCfg.EnableL2 && b.cacheCfg.L2Endpoint == "" {
		return nil, ErrRedisURLRequired
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	catalogClient := catalog.New(b.catalogDB, b.encryptionKey)

	var redisClient *redis.Client
	if b.cacheCfg.EnableL2 {
		client, err := platform.NewRedisClient(ctx, b.cacheCfg.L2Endpoint)
		if err != nil {
			return nil, fmt.Errorf("tenantcore: connecting to redis: %w", err)
		}
		redisClient = client
	}
	b.cacheCfg.PrimaryDBName = b.databases[0].Name
	resolver := cache.New(b.cacheCfg, catalogClient, redisClient, logger)

	poolManager := pool.New(b.poolDefaults)

	validator := token.New(b.jwtSecret)

	return &Core{
		catalog:   catalogClient,
		resolver:  resolver,
		pools:     poolManager,
		validator: validator,
		databases: b.databases,
		redis:     redisClient,
		logger:    logger,
	}, nil
}

// Core is the assembled multi-tenant fabric.
type Core struct {
	catalog   *catalog.Client
	resolver  *cache.Resolver
	pools     *pool.Manager
	validator *token.Validator
	databases []DatabaseConfig
	redis     *redis.Client
	logger    *slog.Logger
}

// Resolver exposes the underlying cache resolver.
func (c *Core) Resolver() *cache.Resolver {
	return c.resolver
}

// Catalog exposes the underlying catalog client, e.g. for wiring an events
// handler's lifecycle callbacks to fresh TenantConfig lookups.
func (c *Core) Catalog() *catalog.Client {
	return c.catalog
}

// Databases returns the databases declared via WithDatabases.
func (c *Core) Databases() []DatabaseConfig {
	return c.databases
}

// Middleware builds the request resolver/middleware (C7) wired to this
// Core's resolver, pool manager, catalog, and declared databases.
func (c *Core) Middleware() *middleware.Middleware {
	return &middleware.Middleware{
		Validator: c.validator,
		Resolver:  c.resolver,
		Pools:     c.pools,
		Names:     c.catalog,
		Databases: c.databases,
		Logger:    c.logger,
	}
}

// HealthCheck probes the L2 client (if enabled) and the catalog database.
func (c *Core) HealthCheck(ctx context.Context) error {
	return c.resolver.HealthCheck(ctx, c.catalog.Ping)
}

// Stats reports cache and pool occupancy for observability.
func (c *Core) Stats() CoreStats {
	entries, weighted := c.resolver.Stats()
	return CoreStats{
		CacheEntries:      entries,
		CacheWeightedSize: weighted,
		ActivePools:       c.pools.ActivePoolsCount(),
	}
}

// Pools exposes the underlying pool manager, e.g. for graceful shutdown via
// CloseAll.
func (c *Core) Pools() *pool.Manager {
	return c.pools
}
