// Package middleware implements the request resolver and middleware (C7):
// the runtime orchestrator that authenticates a request's bearer token,
// resolves every declared database to a ready connection pool, and installs
// the result into the request context for downstream handlers.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenantfabric/core/internal/telemetry"
	"github.com/tenantfabric/core/pkg/tenantcore"
	"github.com/tenantfabric/core/pkg/tenantcore/token"
)

var (
	ErrMissingToken          = errors.New("middleware: missing Authorization header")
	ErrInvalidTokenFormat    = errors.New("middleware: Authorization header missing Bearer prefix")
	ErrInvalidTenantId       = errors.New("middleware: unparseable tenant id")
	ErrResolutionFailed      = errors.New("middleware: tenant resolution failed")
	ErrPoolFailed            = errors.New("middleware: pool acquisition failed")
	ErrDatabaseNotConfigured = errors.New("middleware: database not configured")
)

// Resolver is the subset of cache.Resolver the middleware needs.
type Resolver interface {
	Resolve(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error)
}

// PoolManager is the subset of pool.Manager the middleware needs.
type PoolManager interface {
	GetPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error)
}

// NameFetcher is the subset of catalog.Client the middleware needs to
// resolve a display name. Failures here are non-fatal.
type NameFetcher interface {
	FetchTenantName(ctx context.Context, tenantID tenantcore.TenantId) (string, error)
}

// TenantData is the request-scoped record installed by the middleware,
// carrying the resolved tenant context and its ready-to-use pools.
type TenantData struct {
	TenantID   tenantcore.TenantId
	TenantName string
	pools      map[string]*pgxpool.Pool
	primary    string
}

// Pool returns the pool for a declared database name.
func (d *TenantData) Pool(name string) (*pgxpool.Pool, error) {
	p, ok := d.pools[name]
	if !ok {
		return nil, ErrDatabaseNotConfigured
	}
	return p, nil
}

// PrimaryPool returns the pool for the first declared database.
func (d *TenantData) PrimaryPool() (*pgxpool.Pool, error) {
	return d.Pool(d.primary)
}

type contextKey string

const tenantDataKey contextKey = "tenantcore_tenant_data"

// NewContext stores TenantData in the context.
func NewContext(ctx context.Context, data *TenantData) context.Context {
	return context.WithValue(ctx, tenantDataKey, data)
}

// FromContext extracts TenantData from the context. Returns nil if absent.
func FromContext(ctx context.Context) *TenantData {
	v, _ := ctx.Value(tenantDataKey).(*TenantData)
	return v
}

// Middleware builds the HTTP middleware described by C7. databases is the
// service's declared sequence of DatabaseConfig; the first entry is the
// primary database.
type Middleware struct {
	Validator *token.Validator
	Resolver  Resolver
	Pools     PoolManager
	Names     NameFetcher
	Databases []tenantcore.DatabaseConfig
	Logger    *slog.Logger
}

// Handler returns the func(http.Handler) http.Handler chain.
func (m *Middleware) Handler() func(http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header", ErrMissingToken.Error())
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respondError(w, http.StatusUnauthorized, "InvalidTokenFormat", ErrInvalidTokenFormat.Error())
				return
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := m.Validator.Validate(raw)
			if err != nil {
				logger.Warn("token validation failed", "error", err)
				respondError(w, http.StatusUnauthorized, "InvalidToken", err.Error())
				return
			}

			tenantID, err := tenantcore.ParseTenantId(claims.TenantID)
			if err != nil {
				logger.Warn("unparseable tenant id claim", "tenant_id", claims.TenantID, "error", err)
				respondError(w, http.StatusBadRequest, "InvalidTenantId", err.Error())
				return
			}

			ctx := r.Context()
			pools := make(map[string]*pgxpool.Pool, len(m.Databases))
			for _, db := range m.Databases {
				config, err := m.Resolver.Resolve(ctx, tenantID, db.Name)
				if err != nil {
					logger.Warn("tenant resolution failed", "tenant_id", tenantID, "database", db.Name, "error", err)
					respondError(w, http.StatusNotFound, "ResolutionFailed", err.Error())
					return
				}
				pool, err := m.Pools.GetPool(ctx, config)
				if err != nil {
					logger.Error("pool acquisition failed", "tenant_id", tenantID, "database", db.Name, "error", err)
					respondError(w, http.StatusServiceUnavailable, "PoolFailed", err.Error())
					return
				}
				pools[db.Name] = pool
			}

			name := tenantID.String()
			if m.Names != nil {
				if n, err := m.Names.FetchTenantName(ctx, tenantID); err == nil {
					name = n
				} else {
					logger.Warn("tenant name fetch failed, falling back to id", "tenant_id", tenantID, "error", err)
				}
			}

			data := &TenantData{
				TenantID:   tenantID,
				TenantName: name,
				pools:      pools,
				primary:    m.Databases[0].Name,
			}
			next.ServeHTTP(w, r.WithContext(NewContext(ctx, data)))
		})
	}
}

func respondError(w http.ResponseWriter, status int, errStr, message string) {
	telemetry.MiddlewareRejectionsTotal.WithLabelValues(errStr).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
