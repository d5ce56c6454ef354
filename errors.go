package esgbridge

import (
	"errors"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/subscription"
)

// Sentinel errors returned by Bridge operations. Subsystem sentinels are
// re-exported here so callers can match them without importing every
// package.
var (
	// ErrNoStore is returned when a Bridge is created without a store.
	ErrNoStore = errors.New("esgbridge: store is required")

	// ErrUnknownEventType is returned when publishing an event whose type
	// is not in the recognized set.
	ErrUnknownEventType = errors.New("esgbridge: unknown event type")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("esgbridge: store is closed")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrInvalidTransition is returned on a disallowed subscription
	// lifecycle transition.
	ErrInvalidTransition = subscription.ErrInvalidTransition

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = event.ErrNotFound

	// ErrDuplicateIdempotencyKey is returned by stores when an event with
	// the same idempotency key already exists. Publish treats it as a
	// no-op success.
	ErrDuplicateIdempotencyKey = event.ErrDuplicateIdempotencyKey

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrDeliveryCompleted is returned when an operation targets a
	// delivery that has already reached a terminal state.
	ErrDeliveryCompleted = delivery.ErrDeliveryCompleted

	// ErrConnectorNotFound is returned when a connector cannot be found.
	ErrConnectorNotFound = connector.ErrNotFound

	// ErrSchemaVersionNotFound is returned when a canonical schema version
	// cannot be found.
	ErrSchemaVersionNotFound = canonical.ErrVersionNotFound

	// ErrRevisionConflict is returned on a lost optimistic concurrency
	// race over a canonical entity.
	ErrRevisionConflict = canonical.ErrRevisionConflict
)
