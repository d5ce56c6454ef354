// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/reconcile"
	bridgestore "github.com/verdantiq/esgbridge/store"
	"github.com/verdantiq/esgbridge/subscription"
)

// compile-time interface check.
var _ bridgestore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	subscriptions   map[string]*subscription.Subscription // keyed by ID string
	events          map[string]*event.Event               // keyed by ID string
	eventsByIdemKey map[string]*event.Event               // keyed by idempotency key
	deliveries      map[string]*delivery.Delivery         // keyed by ID string
	connectors      map[string]*connector.Connector       // keyed by ID string
	schemaVersions  map[string][]*canonical.SchemaVersion // keyed by entity type, ascending
	mappings        map[string]*canonical.Mapping         // keyed by ID string
	entities        map[string]*canonical.Entity          // keyed by ID string
	entitiesByExt   map[string]*canonical.Entity          // keyed by connectorID/externalID
	syncRecords     map[string]*reconcile.SyncRecord      // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions:   make(map[string]*subscription.Subscription),
		events:          make(map[string]*event.Event),
		eventsByIdemKey: make(map[string]*event.Event),
		deliveries:      make(map[string]*delivery.Delivery),
		connectors:      make(map[string]*connector.Connector),
		schemaVersions:  make(map[string][]*canonical.SchemaVersion),
		mappings:        make(map[string]*canonical.Mapping),
		entities:        make(map[string]*canonical.Entity),
		entitiesByExt:   make(map[string]*canonical.Entity),
		syncRecords:     make(map[string]*reconcile.SyncRecord),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return esgbridge.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// copySubscription returns a shallow copy of the subscription. The store
// never shares row pointers with callers; a caller mutating its own object
// after a write must not change the stored row.
func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	return &cp
}

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a copy of the subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Status != nil && sub.Status != *opts.Status {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all Active subscriptions matching an event type.
func (s *Store) Resolve(_ context.Context, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status != subscription.StatusActive {
			continue
		}
		if sub.Matches(eventType) {
			result = append(result, copySubscription(sub))
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. Returns ErrDuplicateIdempotencyKey on conflict.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != "" {
		if _, ok := s.eventsByIdemKey[evt.IdempotencyKey]; ok {
			return event.ErrDuplicateIdempotencyKey
		}
		s.eventsByIdemKey[evt.IdempotencyKey] = evt
	}

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// EnqueueDelivery creates a pending delivery.
func (s *Store) EnqueueDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// EnqueueDeliveryBatch creates multiple deliveries atomically.
func (s *Store) EnqueueDeliveryBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
	}
	return nil
}

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// ClaimDue flips due Pending/Retrying deliveries to InProgress and returns
// copies so callers can mutate without holding a lock. The status flip is
// the claim; a row is never handed to two workers.
func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if !d.Due(now) {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.Status = delivery.StatusInProgress
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// ClaimDelivery claims one specific delivery for an operator-driven attempt.
func (s *Store) ClaimDelivery(_ context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	if d.Terminal() {
		return nil, delivery.ErrDeliveryCompleted
	}
	if d.Status == delivery.StatusInProgress {
		return nil, delivery.ErrClaimed
	}

	d.Status = delivery.StatusInProgress
	return copyDelivery(d), nil
}

// UpdateDelivery modifies a delivery. Terminal rows are immutable.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.deliveries[d.ID.String()]
	if !ok {
		return delivery.ErrNotFound
	}
	if existing.Terminal() {
		return delivery.ErrDeliveryCompleted
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		if opts.From != nil && d.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && d.CreatedAt.After(*opts.To) {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if !d.Terminal() {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// connector.Store
// ──────────────────────────────────────────────────

// CreateConnector persists a new connector.
func (s *Store) CreateConnector(_ context.Context, c *connector.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectors[c.ID.String()] = c
	return nil
}

// GetConnector returns a connector by ID.
func (s *Store) GetConnector(_ context.Context, connID id.ID) (*connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connectors[connID.String()]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return c, nil
}

// UpdateConnector modifies an existing connector.
func (s *Store) UpdateConnector(_ context.Context, c *connector.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connectors[c.ID.String()]; !ok {
		return connector.ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	s.connectors[c.ID.String()] = c
	return nil
}

// DeleteConnector removes a connector.
func (s *Store) DeleteConnector(_ context.Context, connID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connectors[connID.String()]; !ok {
		return connector.ErrNotFound
	}
	delete(s.connectors, connID.String())
	return nil
}

// ListConnectors returns connectors matching opts.
func (s *Store) ListConnectors(_ context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*connector.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		if opts.Kind != "" && c.Kind != opts.Kind {
			continue
		}
		if opts.ActiveOnly && !c.Active {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// canonical.Store
// ──────────────────────────────────────────────────

// CreateSchemaVersion persists a new schema version.
func (s *Store) CreateSchemaVersion(_ context.Context, v *canonical.SchemaVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schemaVersions[v.EntityType] = append(s.schemaVersions[v.EntityType], v)
	sort.Slice(s.schemaVersions[v.EntityType], func(i, j int) bool {
		return s.schemaVersions[v.EntityType][i].Version < s.schemaVersions[v.EntityType][j].Version
	})
	return nil
}

// GetSchemaVersion returns one version of an entity type's schema.
func (s *Store) GetSchemaVersion(_ context.Context, entityType string, version int) (*canonical.SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.schemaVersions[entityType] {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, canonical.ErrVersionNotFound
}

// MaxSchemaVersion returns the highest version declared for an entity type.
func (s *Store) MaxSchemaVersion(_ context.Context, entityType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.schemaVersions[entityType]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

// ListSchemaVersions returns all versions for an entity type, ascending.
func (s *Store) ListSchemaVersions(_ context.Context, entityType string) ([]*canonical.SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.schemaVersions[entityType]
	result := make([]*canonical.SchemaVersion, len(versions))
	copy(result, versions)
	return result, nil
}

// UpdateSchemaVersion modifies an existing schema version.
func (s *Store) UpdateSchemaVersion(_ context.Context, v *canonical.SchemaVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.schemaVersions[v.EntityType] {
		if existing.Version == v.Version {
			v.UpdatedAt = time.Now().UTC()
			s.schemaVersions[v.EntityType][i] = v
			return nil
		}
	}
	return canonical.ErrVersionNotFound
}

// CreateMapping persists a new canonical mapping.
func (s *Store) CreateMapping(_ context.Context, m *canonical.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[m.ID.String()] = m
	return nil
}

// GetMapping returns a mapping by ID.
func (s *Store) GetMapping(_ context.Context, mapID id.ID) (*canonical.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mapID.String()]
	if !ok {
		return nil, canonical.ErrMappingNotFound
	}
	return m, nil
}

// ListMappings returns a connector's mappings, optionally filtered.
func (s *Store) ListMappings(_ context.Context, connectorID id.ID, opts canonical.MappingListOpts) ([]*canonical.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*canonical.Mapping
	for _, m := range s.mappings {
		if m.ConnectorID.String() != connectorID.String() {
			continue
		}
		if opts.EntityType != "" && m.EntityType != opts.EntityType {
			continue
		}
		if opts.SchemaVersion > 0 && m.SchemaVersion != opts.SchemaVersion {
			continue
		}
		if opts.ActiveOnly && !m.Active {
			continue
		}
		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateMapping modifies an existing mapping.
func (s *Store) UpdateMapping(_ context.Context, m *canonical.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[m.ID.String()]; !ok {
		return canonical.ErrMappingNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	s.mappings[m.ID.String()] = m
	return nil
}

// DeleteMapping removes a mapping.
func (s *Store) DeleteMapping(_ context.Context, mapID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[mapID.String()]; !ok {
		return canonical.ErrMappingNotFound
	}
	delete(s.mappings, mapID.String())
	return nil
}

// extKey builds the unique (connector, external id) lookup key.
func extKey(connectorID id.ID, externalID string) string {
	return connectorID.String() + "/" + externalID
}

// copyEntity returns a shallow copy of the entity.
func copyEntity(e *canonical.Entity) *canonical.Entity {
	cp := *e
	return &cp
}

// UpsertEntity creates or overwrites a staged canonical entity, enforcing
// the Revision optimistic check. The new revision is written back to the
// caller's object; the stored row is a copy.
func (s *Store) UpsertEntity(_ context.Context, e *canonical.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[e.ID.String()]
	if !ok {
		e.Revision = 1
		cp := copyEntity(e)
		s.entities[e.ID.String()] = cp
		s.entitiesByExt[extKey(e.ConnectorID, e.ExternalID)] = cp
		return nil
	}

	if e.Revision != existing.Revision {
		return canonical.ErrRevisionConflict
	}
	e.Revision++
	e.UpdatedAt = time.Now().UTC()
	cp := copyEntity(e)
	s.entities[e.ID.String()] = cp
	s.entitiesByExt[extKey(e.ConnectorID, e.ExternalID)] = cp
	return nil
}

// GetEntity returns a copy of the canonical entity by ID.
func (s *Store) GetEntity(_ context.Context, entID id.ID) (*canonical.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entID.String()]
	if !ok {
		return nil, canonical.ErrEntityNotFound
	}
	return copyEntity(e), nil
}

// GetEntityByExternalID returns the staged entity for a (connector, external id) pair.
func (s *Store) GetEntityByExternalID(_ context.Context, connectorID id.ID, externalID string) (*canonical.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entitiesByExt[extKey(connectorID, externalID)]
	if !ok {
		return nil, canonical.ErrEntityNotFound
	}
	return copyEntity(e), nil
}

// ListEntities returns canonical entities, optionally filtered.
func (s *Store) ListEntities(_ context.Context, opts canonical.EntityListOpts) ([]*canonical.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*canonical.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if opts.EntityType != "" && e.EntityType != opts.EntityType {
			continue
		}
		if opts.ConnectorID != nil && e.ConnectorID.String() != opts.ConnectorID.String() {
			continue
		}
		if opts.Approved != nil && e.IsApproved != *opts.Approved {
			continue
		}
		result = append(result, copyEntity(e))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// reconcile.Store
// ──────────────────────────────────────────────────

// CreateSyncRecord persists a new sync record. Records are append-only.
func (s *Store) CreateSyncRecord(_ context.Context, rec *reconcile.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncRecords[rec.ID.String()] = rec
	return nil
}

// GetSyncRecord returns a sync record by ID.
func (s *Store) GetSyncRecord(_ context.Context, recID id.ID) (*reconcile.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.syncRecords[recID.String()]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	return rec, nil
}

// ListSyncRecords returns sync records matching opts, newest first.
func (s *Store) ListSyncRecords(_ context.Context, opts reconcile.ListOpts) ([]*reconcile.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*reconcile.SyncRecord, 0, len(s.syncRecords))
	for _, rec := range s.syncRecords {
		if !opts.ConnectorID.IsNil() && rec.ConnectorID.String() != opts.ConnectorID.String() {
			continue
		}
		if opts.EntityType != "" && rec.EntityType != opts.EntityType {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if !opts.From.IsZero() && rec.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && rec.CreatedAt.After(opts.To) {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
