package connector

import (
	"context"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence operations for connectors.
type Store interface {
	// CreateConnector persists a new connector.
	CreateConnector(ctx context.Context, c *Connector) error

	// GetConnector returns a connector by ID. Returns ErrNotFound if it
	// does not exist.
	GetConnector(ctx context.Context, connID id.ID) (*Connector, error)

	// UpdateConnector persists changes to an existing connector.
	UpdateConnector(ctx context.Context, c *Connector) error

	// DeleteConnector removes a connector.
	DeleteConnector(ctx context.Context, connID id.ID) error

	// ListConnectors returns connectors matching opts.
	ListConnectors(ctx context.Context, opts ListOpts) ([]*Connector, error)
}
