package event

import (
	"context"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence contract for domain events.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events, optionally filtered by type or time range.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
