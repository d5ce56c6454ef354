// Package store defines the composite Store interface for all esgbridge
// persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all, so a backend implements every subsystem in one type.
package store

import (
	"context"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	subscription.Store
	event.Store
	delivery.Store
	connector.Store
	canonical.Store
	reconcile.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
