// Package reconcile implements the sync reconciliation engine: inbound
// external records are mapped to the canonical shape and merged into the
// staged entity set, with approved data protected against silent
// overwrite. Every reconciliation appends an immutable sync record.
package reconcile

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// ErrRecordNotFound indicates the sync record does not exist.
var ErrRecordNotFound = errors.New("reconcile: sync record not found")

// ErrConnectorInactive indicates the connector is configured but switched
// off; inbound data for it is refused rather than recorded.
var ErrConnectorInactive = errors.New("reconcile: connector is inactive")

// ErrNoMappings indicates the connector has no active mapping set for the
// entity type.
var ErrNoMappings = errors.New("reconcile: no active mappings for entity type")

// Status is the outcome of a reconciliation.
type Status string

const (
	// StatusPending indicates the reconciliation is still running.
	StatusPending Status = "pending"

	// StatusSuccess indicates the canonical entity was created or updated.
	StatusSuccess Status = "success"

	// StatusFailed indicates an infrastructure error during reconciliation.
	StatusFailed Status = "failed"

	// StatusRejected indicates the inbound record could not be mapped or
	// validated against the canonical schema.
	StatusRejected Status = "rejected"

	// StatusConflictPreserved indicates the inbound record collided with
	// approved data and the approved data was kept.
	StatusConflictPreserved Status = "conflict_preserved"
)

// ConflictResolution describes how an approved-data collision was handled.
type ConflictResolution string

const (
	// ResolutionNoConflict indicates no approved data stood in the way.
	ResolutionNoConflict ConflictResolution = "no_conflict"

	// ResolutionPreservedManual indicates approved data was preserved and
	// the inbound record discarded.
	ResolutionPreservedManual ConflictResolution = "preserved_manual"

	// ResolutionAdminOverride indicates an operator explicitly authorized
	// overwriting approved data.
	ResolutionAdminOverride ConflictResolution = "admin_override"
)

// SyncRecord is the audit trail entry for one reconciliation. Records are
// append-only; stores must reject updates to them.
type SyncRecord struct {
	entity.Entity

	ID          id.ID  `json:"id"`
	ConnectorID id.ID  `json:"connector_id"`
	ExternalID  string `json:"external_id"`
	EntityType  string `json:"entity_type"`

	// EntityID is the canonical entity touched by this reconciliation.
	// Unset when the record was rejected before an entity existed.
	EntityID id.ID `json:"entity_id,omitempty"`

	// SchemaVersion is the canonical schema version the inbound record was
	// mapped onto.
	SchemaVersion int `json:"schema_version,omitempty"`

	Status     Status             `json:"status"`
	Resolution ConflictResolution `json:"resolution,omitempty"`

	// OverwroteApprovedData marks the records where approved data was
	// replaced under an admin override.
	OverwroteApprovedData bool   `json:"overwrote_approved_data,omitempty"`
	ApprovedOverrideBy    string `json:"approved_override_by,omitempty"`

	// Payload is the inbound external record as received.
	Payload json.RawMessage `json:"payload,omitempty"`

	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ListOpts filters sync record listings.
type ListOpts struct {
	Offset      int
	Limit       int
	ConnectorID id.ID
	EntityType  string
	Status      Status
	From        time.Time
	To          time.Time
}
