// Package event defines the domain events published by the ESG reporting
// application and consumed by the delivery dispatcher.
package event

import (
	"errors"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// ErrNotFound indicates the event does not exist.
var ErrNotFound = errors.New("event: not found")

// ErrDuplicateIdempotencyKey indicates an event with the same idempotency
// key has already been published.
var ErrDuplicateIdempotencyKey = errors.New("event: duplicate idempotency key")

// Domain event type names emitted by the reporting application.
const (
	TypeDataChanged      = "data.changed"
	TypeApprovalRequest  = "approval.requested"
	TypeApprovalGranted  = "approval.granted"
	TypeApprovalRejected = "approval.rejected"
	TypeExportStarted    = "export.started"
	TypeExportCompleted  = "export.completed"
	TypeExportFailed     = "export.failed"
)

// knownTypes is the closed set of event types the dispatcher accepts.
var knownTypes = map[string]struct{}{
	TypeDataChanged:      {},
	TypeApprovalRequest:  {},
	TypeApprovalGranted:  {},
	TypeApprovalRejected: {},
	TypeExportStarted:    {},
	TypeExportCompleted:  {},
	TypeExportFailed:     {},
}

// KnownType reports whether name is a recognized domain event type.
func KnownType(name string) bool {
	_, ok := knownTypes[name]
	return ok
}

// Types returns the full set of recognized domain event type names.
func Types() []string {
	return []string{
		TypeDataChanged,
		TypeApprovalRequest,
		TypeApprovalGranted,
		TypeApprovalRejected,
		TypeExportStarted,
		TypeExportCompleted,
		TypeExportFailed,
	}
}

// Event represents a domain event submitted for webhook delivery.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "approval.granted").
	Type string `json:"type"`

	// EntityType names the reporting entity the event concerns
	// (e.g. "data_point", "export").
	EntityType string `json:"entity_type,omitempty"`

	// EntityID is the reporting application's identifier for that entity.
	EntityID string `json:"entity_id,omitempty"`

	// CorrelationID ties the event to the originating request or workflow.
	// Webhook consumers deduplicate on it; delivery is at-least-once.
	CorrelationID string `json:"correlation_id"`

	// Data is the event payload snapshot delivered to subscribers.
	Data any `json:"data"`

	// IdempotencyKey prevents duplicate event processing on publish.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
