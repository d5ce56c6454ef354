package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/verdantiq/esgbridge"

// Tracer provides OpenTelemetry tracing for ESGBridge.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new ESGBridge tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, subscriptionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "esgbridge.delivery",
		trace.WithAttributes(
			attribute.String("esgbridge.delivery_id", deliveryID),
			attribute.String("esgbridge.event_id", eventID),
			attribute.String("esgbridge.subscription_id", subscriptionID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("esgbridge.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("esgbridge.error", err))
	}
	span.End()
}

// StartReconcileSpan starts a new span for a sync reconciliation.
func (t *Tracer) StartReconcileSpan(ctx context.Context, connectorID, externalID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "esgbridge.reconcile",
		trace.WithAttributes(
			attribute.String("esgbridge.connector_id", connectorID),
			attribute.String("esgbridge.external_id", externalID),
		),
	)
}

// EndReconcileSpan ends a reconciliation span with the outcome.
func (t *Tracer) EndReconcileSpan(span trace.Span, status, resolution string) {
	span.SetAttributes(
		attribute.String("esgbridge.sync_status", status),
		attribute.String("esgbridge.conflict_resolution", resolution),
	)
	span.End()
}
