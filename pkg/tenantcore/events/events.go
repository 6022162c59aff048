// Package events implements the durable event fabric (C5): typed tenant
// lifecycle envelopes published and consumed over NATS JetStream so that
// caches and pools stay coherent across every service instance.
package events

import (
	"time"

	"github.com/tenantfabric/core/pkg/tenantcore"
)

// Tag is the last dotted segment of a subject, identifying an event
// variant (tenant_created, database_updated, ...).
type Tag string

const (
	TagTenantCreated        Tag = "tenant_created"
	TagTenantDeactivated    Tag = "tenant_deactivated"
	TagDatabaseCreated      Tag = "database_created"
	TagDatabaseUpdated      Tag = "database_updated"
	TagDatabaseDeactivated  Tag = "database_deactivated"
)

// TenantCreatedEvent announces a tenant created with all its declared
// databases.
type TenantCreatedEvent struct {
	TenantID   tenantcore.TenantId `json:"tenant_id"`
	TenantName string              `json:"tenant_name"`
	Databases  []string            `json:"databases"`
	CreatedAt  time.Time           `json:"created_at"`
}

// TenantDeactivatedEvent announces a tenant deactivated entirely (all its
// databases).
type TenantDeactivatedEvent struct {
	TenantID      tenantcore.TenantId `json:"tenant_id"`
	Reason        string              `json:"reason"`
	DeactivatedAt time.Time           `json:"deactivated_at"`
}

// DatabaseCreatedEvent announces a single database created for a tenant.
type DatabaseCreatedEvent struct {
	TenantID       tenantcore.TenantId `json:"tenant_id"`
	TenantName     string              `json:"tenant_name"`
	DatabaseName   string              `json:"database_name"`
	MaxConnections uint32              `json:"max_connections"`
	MinConnections uint32              `json:"min_connections"`
	CreatedAt      time.Time           `json:"created_at"`
}

// DatabaseUpdatedEvent announces a sizing/status change for a single
// tenant database.
type DatabaseUpdatedEvent struct {
	TenantID       tenantcore.TenantId `json:"tenant_id"`
	DatabaseName   string              `json:"database_name"`
	MaxConnections *uint32             `json:"max_connections,omitempty"`
	MinConnections *uint32             `json:"min_connections,omitempty"`
	StatusChanged  *string             `json:"status_changed,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// DatabaseDeactivatedEvent announces a single database deactivated for a
// tenant.
type DatabaseDeactivatedEvent struct {
	TenantID      tenantcore.TenantId `json:"tenant_id"`
	DatabaseName  string              `json:"database_name"`
	Reason        string              `json:"reason"`
	DeactivatedAt time.Time           `json:"deactivated_at"`
}

// TenantEvent is the tagged-union envelope carried on the wire. Exactly one
// of the typed fields is populated, selected by Tag.
type TenantEvent struct {
	Tag                 Tag                       `json:"type"`
	TenantCreated        *TenantCreatedEvent       `json:"tenant_created,omitempty"`
	TenantDeactivated    *TenantDeactivatedEvent   `json:"tenant_deactivated,omitempty"`
	DatabaseCreated       *DatabaseCreatedEvent     `json:"database_created,omitempty"`
	DatabaseUpdated       *DatabaseUpdatedEvent     `json:"database_updated,omitempty"`
	DatabaseDeactivated   *DatabaseDeactivatedEvent `json:"database_deactivated,omitempty"`
}
