// Package observability provides metric instruments and OpenTelemetry
// tracing for ESGBridge.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for ESGBridge, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsPublishedTotal  gu.Counter
	DeliveriesTotal       gu.Counter
	DeliveryLatency       gu.Histogram
	PendingDeliveries     gu.Gauge
	DegradedSubscriptions gu.Gauge
	SyncRecordsTotal      gu.Counter
	SyncConflictsTotal    gu.Counter
}

// NewMetrics creates ESGBridge metric instruments using the supplied factory.
// Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsPublishedTotal:  factory.Counter("esgbridge_events_published_total"),
		DeliveriesTotal:       factory.Counter("esgbridge_deliveries_total"),
		DeliveryLatency:       factory.Histogram("esgbridge_delivery_latency_seconds"),
		PendingDeliveries:     factory.Gauge("esgbridge_pending_deliveries"),
		DegradedSubscriptions: factory.Gauge("esgbridge_degraded_subscriptions"),
		SyncRecordsTotal:      factory.Counter("esgbridge_sync_records_total"),
		SyncConflictsTotal:    factory.Counter("esgbridge_sync_conflicts_total"),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordSync records a sync reconciliation outcome.
func (m *Metrics) RecordSync(status string) {
	m.SyncRecordsTotal.WithLabels(map[string]string{"status": status}).Inc()
}

// RecordConflict counts a reconciliation that preserved approved data.
func (m *Metrics) RecordConflict() {
	m.SyncConflictsTotal.Inc()
}

// SubscriptionDegraded moves the degraded subscription gauge up.
func (m *Metrics) SubscriptionDegraded() {
	m.DegradedSubscriptions.Inc()
}

// SubscriptionReactivated moves the degraded subscription gauge down.
func (m *Metrics) SubscriptionReactivated() {
	m.DegradedSubscriptions.Dec()
}
