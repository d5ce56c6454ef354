package canonical

import (
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// Entity is a staged canonical entity instance: inbound connector data
// mapped into the canonical shape, awaiting or carrying approval.
// (connectorID, externalID) is unique per instance.
type Entity struct {
	entity.Entity

	// ID is the unique TypeID for this canonical entity.
	ID id.ID `json:"id"`

	// ConnectorID references the connector that sourced this entity.
	ConnectorID id.ID `json:"connector_id"`

	// ExternalID is the source system's identifier for this entity.
	ExternalID string `json:"external_id"`

	// EntityType names the canonical entity type.
	EntityType string `json:"entity_type"`

	// SchemaVersion is the schema version the payload conforms to.
	SchemaVersion int `json:"schema_version"`

	// Payload is the mapped canonical data.
	Payload map[string]any `json:"payload"`

	// IsApproved marks data reviewed and accepted by a human. Approved
	// data is protected from automated overwrite (see reconcile).
	IsApproved bool `json:"is_approved"`

	// ApprovedBy identifies who approved the data.
	ApprovedBy string `json:"approved_by,omitempty"`

	// ApprovedAt is when the data was approved.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// Revision increments on every overwrite; used for optimistic
	// concurrency in store implementations.
	Revision int `json:"revision"`
}

// EntityListOpts configures filtering and pagination for entity listing.
type EntityListOpts struct {
	Offset      int
	Limit       int
	EntityType  string
	ConnectorID *id.ID
	Approved    *bool
}
