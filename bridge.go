package esgbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/store"
	"github.com/verdantiq/esgbridge/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (b *Bridge) wireServices() {
	b.subSvc = subscription.NewService(b.store, subscription.Config{
		DegradedThreshold: b.config.DegradedThreshold,
		VerifyTimeout:     b.config.VerifyTimeout,
		Metrics:           b.metrics,
	}, b.logger)

	b.connSvc = connector.NewService(b.store, b.logger)

	b.registry = canonical.NewRegistry(b.store, b.logger)

	b.reconciler = reconcile.NewEngine(b.store, b.registry, reconcile.EngineConfig{
		Metrics: b.metrics,
		Tracer:  b.tracer,
	}, b.logger)

	b.dispatcher = delivery.NewDispatcher(b.store, b.subSvc, delivery.DispatcherConfig{
		Concurrency:     b.config.Concurrency,
		PollInterval:    b.config.PollInterval,
		BatchSize:       b.config.BatchSize,
		RequestTimeout:  b.config.RequestTimeout,
		RetryCeiling:    b.config.RetryCeiling,
		ShutdownTimeout: b.config.ShutdownTimeout,
		Metrics:         b.metrics,
		Tracer:          b.tracer,
	}, b.logger)
}

// Start begins the delivery dispatcher's sweep loop.
func (b *Bridge) Start(ctx context.Context) {
	b.dispatcher.Start(ctx)
}

// Stop gracefully shuts down the dispatcher.
func (b *Bridge) Stop(ctx context.Context) {
	b.dispatcher.Stop(ctx)
}

// envelope is the wire shape delivered to webhook consumers.
type envelope struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
	EntityType    string    `json:"entity_type,omitempty"`
	EntityID      string    `json:"entity_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Data          any       `json:"data"`
}

// Publish validates and persists an event, then fans out deliveries to
// matching subscriptions.
//
// The critical path:
//  1. Reject unknown event types.
//  2. Persist the event (idempotency key dedup is handled here).
//  3. Resolve Active subscriptions whose patterns match the type.
//  4. Enqueue one delivery per match, with the subscription's retry
//     policy snapshotted onto the delivery.
func (b *Bridge) Publish(ctx context.Context, evt *event.Event) error {
	if !event.KnownType(evt.Type) {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type)
	}

	evt.Entity = entity.New()
	evt.ID = id.NewEventID()

	// Idempotency key conflicts return a no-op success.
	if createErr := b.store.CreateEvent(ctx, evt); createErr != nil {
		if errors.Is(createErr, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return fmt.Errorf("esgbridge: persist event: %w", createErr)
	}

	subs, err := b.store.Resolve(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("esgbridge: resolve subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(envelope{
		ID:            evt.ID.String(),
		Type:          evt.Type,
		CreatedAt:     evt.CreatedAt,
		EntityType:    evt.EntityType,
		EntityID:      evt.EntityID,
		CorrelationID: evt.CorrelationID,
		Data:          evt.Data,
	})
	if err != nil {
		return fmt.Errorf("esgbridge: marshal payload: %w", err)
	}

	deliveries := make([]*delivery.Delivery, 0, len(subs))
	for _, sub := range subs {
		d := &delivery.Delivery{
			Entity:           entity.New(),
			ID:               id.NewDeliveryID(),
			EventID:          evt.ID,
			SubscriptionID:   sub.ID,
			EventType:        evt.Type,
			CorrelationID:    evt.CorrelationID,
			Payload:          payload,
			Status:           delivery.StatusPending,
			MaxAttempts:      sub.RetryPolicy.MaxAttempts,
			BaseDelaySeconds: sub.RetryPolicy.BaseDelaySeconds,
			Exponential:      sub.RetryPolicy.Exponential,
		}
		deliveries = append(deliveries, d)
	}

	if err := b.store.EnqueueDeliveryBatch(ctx, deliveries); err != nil {
		return fmt.Errorf("esgbridge: enqueue deliveries: %w", err)
	}

	if b.metrics != nil {
		b.metrics.EventsPublishedTotal.Inc()
		b.metrics.PendingDeliveries.Add(float64(len(deliveries)))
	}

	b.logger.DebugContext(ctx, "event published",
		"event_id", evt.ID,
		"type", evt.Type,
		"subscriptions", len(subs),
	)

	return nil
}

// Subscriptions returns the subscription management service.
func (b *Bridge) Subscriptions() *subscription.Service {
	return b.subSvc
}

// Connectors returns the connector management service.
func (b *Bridge) Connectors() *connector.Service {
	return b.connSvc
}

// Registry returns the canonical schema registry.
func (b *Bridge) Registry() *canonical.Registry {
	return b.registry
}

// Reconciler returns the sync reconciliation engine.
func (b *Bridge) Reconciler() *reconcile.Engine {
	return b.reconciler
}

// Dispatcher returns the delivery dispatcher.
func (b *Bridge) Dispatcher() *delivery.Dispatcher {
	return b.dispatcher
}

// Store returns the underlying store.
func (b *Bridge) Store() store.Store {
	return b.store
}
