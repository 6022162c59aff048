// Package catalog implements the tenant catalog client (C2): it reads
// tenant/database rows from the authoritative relational store and
// decrypts connection credentials. It never caches; every call hits the
// catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenantfabric/core/pkg/tenantcore"
	"github.com/tenantfabric/core/pkg/tenantcore/crypto"
)

var (
	ErrTenantNotFound  = errors.New("catalog: tenant not found")
	ErrTenantNotActive = errors.New("catalog: tenant is not active")
	ErrDecryption      = errors.New("catalog: failed to decrypt connection string")
	ErrDatabase        = errors.New("catalog: database error")
)

// Querier is the narrow slice of *pgxpool.Pool this package needs. Depending
// on an interface instead of the concrete pool type keeps the catalog client
// testable without a live database.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client reads tenant catalog rows and decrypts their connection strings.
type Client struct {
	db            Querier
	encryptionKey []byte
}

// New builds a catalog client. encryptionKey must be 32 bytes.
func New(db Querier, encryptionKey []byte) *Client {
	return &Client{db: db, encryptionKey: encryptionKey}
}

const fetchQuery = `
SELECT tenant_id, name, connection_string_encrypted, status,
       max_connections, min_connections
FROM tenants
WHERE tenant_id = $1 AND database_name = $2
`

// Fetch reads the row for (tenantID, databaseName), decrypts its connection
// string, and returns the resolved TenantConfig. It fails with
// ErrTenantNotFound if no row matches, ErrTenantNotActive if status is not
// Active, ErrDecryption on authentication failure, and ErrDatabase on
// transport/decoding errors.
func (c *Client) Fetch(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error) {
	var (
		rawID          uuid.UUID
		name           string
		encrypted      []byte
		statusStr      string
		maxConnections int32
		minConnections int32
	)

	row := c.db.QueryRow(ctx, fetchQuery, uuid.UUID(tenantID), databaseName)
	err := row.Scan(&rawID, &name, &encrypted, &statusStr, &maxConnections, &minConnections)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrTenantNotFound, tenantID, databaseName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	status, err := tenantcore.ParseTenantStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if status != tenantcore.StatusActive {
		return nil, fmt.Errorf("%w: %s/%s", ErrTenantNotActive, tenantID, databaseName)
	}

	connectionString, err := crypto.DecryptString(encrypted, c.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return &tenantcore.TenantConfig{
		TenantID:         tenantcore.TenantId(rawID),
		TenantName:       name,
		DatabaseName:     databaseName,
		ConnectionString: connectionString,
		Status:           status,
		MaxConnections:   uint32(maxConnections),
		MinConnections:   uint32(minConnections),
	}, nil
}

// Ping verifies the catalog database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var ok int
	if err := c.db.QueryRow(ctx, "SELECT 1").Scan(&ok); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

const fetchNameQuery = `SELECT name FROM tenants WHERE tenant_id = $1 LIMIT 1`

// FetchTenantName returns the display name for a tenant. It succeeds for
// any tenant that has at least one database row, regardless of that row's
// status. It fails with ErrTenantNotFound when no row exists.
func (c *Client) FetchTenantName(ctx context.Context, tenantID tenantcore.TenantId) (string, error) {
	var name string
	row := c.db.QueryRow(ctx, fetchNameQuery, uuid.UUID(tenantID))
	err := row.Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return name, nil
}
