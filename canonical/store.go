package canonical

import (
	"context"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence contract for the canonical registry:
// schema versions, mappings, and staged canonical entities.
type Store interface {
	// CreateSchemaVersion persists a new schema version.
	CreateSchemaVersion(ctx context.Context, v *SchemaVersion) error

	// GetSchemaVersion returns one version of an entity type's schema.
	GetSchemaVersion(ctx context.Context, entityType string, version int) (*SchemaVersion, error)

	// MaxSchemaVersion returns the highest version number declared for an
	// entity type, or 0 when none exists.
	MaxSchemaVersion(ctx context.Context, entityType string) (int, error)

	// ListSchemaVersions returns all versions for an entity type in
	// ascending version order.
	ListSchemaVersions(ctx context.Context, entityType string) ([]*SchemaVersion, error)

	// UpdateSchemaVersion modifies an existing schema version (deprecation).
	UpdateSchemaVersion(ctx context.Context, v *SchemaVersion) error

	// CreateMapping persists a new canonical mapping.
	CreateMapping(ctx context.Context, m *Mapping) error

	// GetMapping returns a mapping by ID.
	GetMapping(ctx context.Context, mapID id.ID) (*Mapping, error)

	// ListMappings returns a connector's mappings, optionally filtered.
	ListMappings(ctx context.Context, connectorID id.ID, opts MappingListOpts) ([]*Mapping, error)

	// UpdateMapping modifies an existing mapping (activation, priority).
	UpdateMapping(ctx context.Context, m *Mapping) error

	// DeleteMapping removes a mapping.
	DeleteMapping(ctx context.Context, mapID id.ID) error

	// UpsertEntity creates or overwrites a staged canonical entity.
	// Implementations must enforce the Revision optimistic check on
	// overwrite and return ErrRevisionConflict on mismatch.
	UpsertEntity(ctx context.Context, e *Entity) error

	// GetEntity returns a canonical entity by ID.
	GetEntity(ctx context.Context, entID id.ID) (*Entity, error)

	// GetEntityByExternalID returns the staged entity for a
	// (connector, external id) pair.
	GetEntityByExternalID(ctx context.Context, connectorID id.ID, externalID string) (*Entity, error)

	// ListEntities returns canonical entities, optionally filtered.
	ListEntities(ctx context.Context, opts EntityListOpts) ([]*Entity, error)
}
