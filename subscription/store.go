package subscription

import (
	"context"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions, optionally filtered.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// Resolve finds all Active subscriptions matching an event type.
	// This is the hot path, called on every Bridge.Publish().
	Resolve(ctx context.Context, eventType string) ([]*Subscription, error)
}
