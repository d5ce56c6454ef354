package delivery

import (
	"context"
	"time"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence contract for webhook deliveries.
type Store interface {
	// EnqueueDelivery creates a pending delivery.
	EnqueueDelivery(ctx context.Context, d *Delivery) error

	// EnqueueDeliveryBatch creates multiple deliveries atomically (fan-out).
	EnqueueDeliveryBatch(ctx context.Context, ds []*Delivery) error

	// ClaimDue atomically flips due Pending/Retrying deliveries to
	// InProgress and returns them. Implementations must ensure a delivery
	// is never claimed by two workers (e.g. SKIP LOCKED).
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// ClaimDelivery claims one specific delivery for an operator-driven
	// attempt. Fails if the delivery is terminal or already in progress.
	ClaimDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)

	// UpdateDelivery modifies a delivery. Implementations must reject
	// mutation of terminal (Succeeded/Failed) rows.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)

	// ListBySubscription returns delivery history for a subscription.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries for a specific event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting attempt
	// (Pending, Retrying, or InProgress).
	CountPending(ctx context.Context) (int64, error)
}
