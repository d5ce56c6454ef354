package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/store/memory"
	"github.com/verdantiq/esgbridge/subscription"
)

func newSub(status subscription.Status, eventTypes ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		Name:        "sink",
		URL:         "https://sink.example.com/h",
		Secret:      "whsec_store_test",
		EventTypes:  eventTypes,
		Status:      status,
		RetryPolicy: subscription.DefaultRetryPolicy,
	}
}

func newDelivery(subID id.ID, status delivery.Status) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: subID,
		EventType:      "data.changed",
		Payload:        []byte(`{}`),
		Status:         status,
		MaxAttempts:    5,
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	sub := newSub(subscription.StatusActive, "data.changed")
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "sink" {
		t.Errorf("name = %q", got.Name)
	}

	got.Name = "renamed"
	if err := st.UpdateSubscription(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.Name != "renamed" {
		t.Errorf("name after update = %q", got.Name)
	}

	if err := st.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetSubscription(ctx, sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("get after delete: error = %v, want ErrNotFound", err)
	}
	if err := st.UpdateSubscription(ctx, sub); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("update missing: error = %v, want ErrNotFound", err)
	}
}

func TestListSubscriptionsStatusFilter(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	for _, status := range []subscription.Status{
		subscription.StatusActive,
		subscription.StatusActive,
		subscription.StatusPaused,
		subscription.StatusDegraded,
	} {
		if err := st.CreateSubscription(ctx, newSub(status, "*")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	active := subscription.StatusActive
	subs, err := st.ListSubscriptions(ctx, subscription.ListOpts{Status: &active})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("active subscriptions = %d, want 2", len(subs))
	}

	all, err := st.ListSubscriptions(ctx, subscription.ListOpts{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all subscriptions = %d, want 4", len(all))
	}
}

func TestResolveOnlyActiveMatches(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	active := newSub(subscription.StatusActive, "data.changed")
	wildcard := newSub(subscription.StatusActive, "approval.*")
	paused := newSub(subscription.StatusPaused, "data.changed")
	for _, sub := range []*subscription.Subscription{active, wildcard, paused} {
		if err := st.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	subs, err := st.Resolve(ctx, "data.changed")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != active.ID {
		t.Errorf("resolve = %d subscriptions, want only the active exact match", len(subs))
	}

	subs, err = st.Resolve(ctx, "approval.granted")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != wildcard.ID {
		t.Errorf("wildcard resolve = %d subscriptions", len(subs))
	}
}

func TestEventIdempotencyKey(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first := &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: "data.changed", IdempotencyKey: "k-1"}
	if err := st.CreateEvent(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: "data.changed", IdempotencyKey: "k-1"}
	if err := st.CreateEvent(ctx, dup); !errors.Is(err, event.ErrDuplicateIdempotencyKey) {
		t.Errorf("duplicate key: error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	// Empty keys never collide.
	for range 2 {
		if err := st.CreateEvent(ctx, &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: "data.changed"}); err != nil {
			t.Fatalf("create without key: %v", err)
		}
	}
}

func TestListEventsFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	for _, typ := range []string{"data.changed", "data.changed", "export.started"} {
		if err := st.CreateEvent(ctx, &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: typ}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	evts, err := st.ListEvents(ctx, event.ListOpts{Type: "data.changed"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evts) != 2 {
		t.Errorf("filtered events = %d, want 2", len(evts))
	}

	evts, err = st.ListEvents(ctx, event.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(evts) != 1 {
		t.Errorf("limited events = %d, want 1", len(evts))
	}

	future := time.Now().UTC().Add(time.Hour)
	evts, err = st.ListEvents(ctx, event.ListOpts{From: &future})
	if err != nil {
		t.Fatalf("list from future: %v", err)
	}
	if len(evts) != 0 {
		t.Errorf("future-filtered events = %d, want 0", len(evts))
	}
}

func TestClaimDue(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	subID := id.NewSubscriptionID()

	pending := newDelivery(subID, delivery.StatusPending)

	past := now.Add(-time.Minute)
	retryDue := newDelivery(subID, delivery.StatusRetrying)
	retryDue.NextRetryAt = &past

	future := now.Add(time.Hour)
	retryLater := newDelivery(subID, delivery.StatusRetrying)
	retryLater.NextRetryAt = &future

	done := newDelivery(subID, delivery.StatusSucceeded)

	for _, d := range []*delivery.Delivery{pending, retryDue, retryLater, done} {
		if err := st.EnqueueDelivery(ctx, d); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := st.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("claimed = %d, want 2 (pending + due retry)", len(batch))
	}
	for _, d := range batch {
		if d.Status != delivery.StatusInProgress {
			t.Errorf("claimed delivery %s status = %s, want in_progress", d.ID, d.Status)
		}
	}

	// A second sweep finds nothing; claimed rows are in progress.
	batch, err = st.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("second claim = %d, want 0", len(batch))
	}
}

func TestClaimDueLimit(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	for range 5 {
		if err := st.EnqueueDelivery(ctx, newDelivery(subID, delivery.StatusPending)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := st.ClaimDue(ctx, time.Now().UTC(), 3)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 3 {
		t.Errorf("claimed = %d, want limit 3", len(batch))
	}
}

func TestClaimDelivery(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	d := newDelivery(subID, delivery.StatusPending)
	if err := st.EnqueueDelivery(ctx, d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := st.ClaimDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != delivery.StatusInProgress {
		t.Errorf("status = %s, want in_progress", claimed.Status)
	}

	// Double claim is rejected.
	if _, err := st.ClaimDelivery(ctx, d.ID); !errors.Is(err, delivery.ErrClaimed) {
		t.Errorf("double claim: error = %v, want ErrClaimed", err)
	}

	if _, err := st.ClaimDelivery(ctx, id.NewDeliveryID()); !errors.Is(err, delivery.ErrNotFound) {
		t.Errorf("claim missing: error = %v, want ErrNotFound", err)
	}

	done := newDelivery(subID, delivery.StatusSucceeded)
	if err := st.EnqueueDelivery(ctx, done); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimDelivery(ctx, done.ID); !errors.Is(err, delivery.ErrDeliveryCompleted) {
		t.Errorf("claim terminal: error = %v, want ErrDeliveryCompleted", err)
	}
}

func TestUpdateDeliveryTerminalImmutable(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	d := newDelivery(id.NewSubscriptionID(), delivery.StatusFailed)
	if err := st.EnqueueDelivery(ctx, d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d.Status = delivery.StatusPending
	if err := st.UpdateDelivery(ctx, d); !errors.Is(err, delivery.ErrDeliveryCompleted) {
		t.Errorf("update terminal: error = %v, want ErrDeliveryCompleted", err)
	}

	got, err := st.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != delivery.StatusFailed {
		t.Errorf("stored status = %s, terminal row was mutated", got.Status)
	}
}

func TestStoredRowsDoNotAliasCallerPointers(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	sub := newSub(subscription.StatusActive, "data.changed")
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	sub.Status = subscription.StatusDisabled
	got, err := st.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if got.Status != subscription.StatusActive {
		t.Errorf("subscription status = %s, caller mutation leaked into the store", got.Status)
	}

	// Mutating a row returned from a read must not change the store either.
	got.Status = subscription.StatusPaused
	again, _ := st.GetSubscription(ctx, sub.ID)
	if again.Status != subscription.StatusActive {
		t.Errorf("subscription status = %s, read result aliases the stored row", again.Status)
	}

	d := newDelivery(sub.ID, delivery.StatusPending)
	if err := st.EnqueueDelivery(ctx, d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Status = delivery.StatusSucceeded
	stored, err := st.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if stored.Status != delivery.StatusPending {
		t.Errorf("delivery status = %s, caller mutation leaked into the store", stored.Status)
	}

	batched := newDelivery(sub.ID, delivery.StatusFailed)
	if err := st.EnqueueDeliveryBatch(ctx, []*delivery.Delivery{batched}); err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}
	batched.Status = delivery.StatusPending
	if err := st.UpdateDelivery(ctx, batched); !errors.Is(err, delivery.ErrDeliveryCompleted) {
		t.Errorf("update batched terminal: error = %v, want ErrDeliveryCompleted", err)
	}

	e := &canonical.Entity{
		Entity: entity.New(), ID: id.NewEntityID(),
		ConnectorID: id.NewConnectorID(), ExternalID: "wd-9",
		EntityType: "employee",
		Payload:    map[string]any{"employee_id": "E-9"},
	}
	if err := st.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	e.IsApproved = true
	ent, err := st.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if ent.IsApproved {
		t.Error("entity approval flag leaked into the store")
	}
}

func TestCountPending(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	for _, status := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusRetrying,
		delivery.StatusInProgress,
		delivery.StatusSucceeded,
		delivery.StatusFailed,
	} {
		if err := st.EnqueueDelivery(ctx, newDelivery(subID, status)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	n, err := st.CountPending(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("pending count = %d, want 3 (non-terminal)", n)
	}
}

func TestListBySubscriptionFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	subID := id.NewSubscriptionID()
	otherSub := id.NewSubscriptionID()

	for _, d := range []*delivery.Delivery{
		newDelivery(subID, delivery.StatusSucceeded),
		newDelivery(subID, delivery.StatusFailed),
		newDelivery(otherSub, delivery.StatusSucceeded),
	} {
		if err := st.EnqueueDelivery(ctx, d); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ds, err := st.ListBySubscription(ctx, subID, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 2 {
		t.Errorf("deliveries = %d, want 2", len(ds))
	}

	failed := delivery.StatusFailed
	ds, err = st.ListBySubscription(ctx, subID, delivery.ListOpts{Status: &failed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ds) != 1 {
		t.Errorf("failed deliveries = %d, want 1", len(ds))
	}
}

func TestConnectorList(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	for _, c := range []*connector.Connector{
		{Entity: entity.New(), ID: id.NewConnectorID(), Name: "workday", Kind: connector.KindHR, Active: true},
		{Entity: entity.New(), ID: id.NewConnectorID(), Name: "sap", Kind: connector.KindFinance, Active: true},
		{Entity: entity.New(), ID: id.NewConnectorID(), Name: "legacy", Kind: connector.KindHR, Active: false},
	} {
		if err := st.CreateConnector(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	conns, err := st.ListConnectors(ctx, connector.ListOpts{Kind: connector.KindHR})
	if err != nil {
		t.Fatalf("list hr: %v", err)
	}
	if len(conns) != 2 {
		t.Errorf("hr connectors = %d, want 2", len(conns))
	}

	conns, err = st.ListConnectors(ctx, connector.ListOpts{Kind: connector.KindHR, ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active hr: %v", err)
	}
	if len(conns) != 1 {
		t.Errorf("active hr connectors = %d, want 1", len(conns))
	}
}

func TestMaxSchemaVersion(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	n, err := st.MaxSchemaVersion(ctx, "employee")
	if err != nil {
		t.Fatalf("max on empty: %v", err)
	}
	if n != 0 {
		t.Errorf("max = %d, want 0 for unknown entity type", n)
	}

	for v := 1; v <= 3; v++ {
		if err := st.CreateSchemaVersion(ctx, &canonical.SchemaVersion{
			Entity: entity.New(), ID: id.NewSchemaVersionID(),
			EntityType: "employee", Version: v,
			Attributes: []canonical.Attribute{{Name: "employee_id"}},
		}); err != nil {
			t.Fatalf("create v%d: %v", v, err)
		}
	}

	n, err = st.MaxSchemaVersion(ctx, "employee")
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if n != 3 {
		t.Errorf("max = %d, want 3", n)
	}
}

func TestUpsertEntityRevision(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	connID := id.NewConnectorID()

	e := &canonical.Entity{
		Entity: entity.New(), ID: id.NewEntityID(),
		ConnectorID: connID, ExternalID: "wd-1",
		EntityType: "employee",
		Payload:    map[string]any{"employee_id": "E-1"},
	}
	if err := st.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.Revision != 1 {
		t.Errorf("revision = %d, want 1 after insert", e.Revision)
	}

	e.Payload["department"] = "finance"
	if err := st.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}
	if e.Revision != 2 {
		t.Errorf("revision = %d, want 2 after update", e.Revision)
	}

	// A writer holding a stale revision loses.
	stale := *e
	stale.Revision = 1
	if err := st.UpsertEntity(ctx, &stale); !errors.Is(err, canonical.ErrRevisionConflict) {
		t.Errorf("stale write: error = %v, want ErrRevisionConflict", err)
	}

	got, err := st.GetEntityByExternalID(ctx, connID, "wd-1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if got.ID != e.ID {
		t.Error("external id lookup returned wrong entity")
	}

	if _, err := st.GetEntityByExternalID(ctx, connID, "wd-missing"); !errors.Is(err, canonical.ErrEntityNotFound) {
		t.Errorf("missing lookup: error = %v, want ErrEntityNotFound", err)
	}
}

func TestListEntitiesFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	connA := id.NewConnectorID()
	connB := id.NewConnectorID()

	approved := &canonical.Entity{
		Entity: entity.New(), ID: id.NewEntityID(),
		ConnectorID: connA, ExternalID: "a-1", EntityType: "employee",
		Payload: map[string]any{}, IsApproved: true,
	}
	staged := &canonical.Entity{
		Entity: entity.New(), ID: id.NewEntityID(),
		ConnectorID: connB, ExternalID: "b-1", EntityType: "cost_center",
		Payload: map[string]any{},
	}
	for _, e := range []*canonical.Entity{approved, staged} {
		if err := st.UpsertEntity(ctx, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	isApproved := true
	ents, err := st.ListEntities(ctx, canonical.EntityListOpts{Approved: &isApproved})
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(ents) != 1 || ents[0].ID != approved.ID {
		t.Errorf("approved entities = %d", len(ents))
	}

	ents, err = st.ListEntities(ctx, canonical.EntityListOpts{ConnectorID: &connB})
	if err != nil {
		t.Fatalf("list by connector: %v", err)
	}
	if len(ents) != 1 || ents[0].ID != staged.ID {
		t.Errorf("connector entities = %d", len(ents))
	}

	ents, err = st.ListEntities(ctx, canonical.EntityListOpts{EntityType: "employee"})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(ents) != 1 {
		t.Errorf("employee entities = %d", len(ents))
	}
}

func TestListSyncRecordsFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	connA := id.NewConnectorID()
	connB := id.NewConnectorID()

	for _, rec := range []*reconcile.SyncRecord{
		{Entity: entity.New(), ID: id.NewSyncRecordID(), ConnectorID: connA, EntityType: "employee", Status: reconcile.StatusSuccess},
		{Entity: entity.New(), ID: id.NewSyncRecordID(), ConnectorID: connA, EntityType: "employee", Status: reconcile.StatusRejected},
		{Entity: entity.New(), ID: id.NewSyncRecordID(), ConnectorID: connB, EntityType: "cost_center", Status: reconcile.StatusSuccess},
	} {
		if err := st.CreateSyncRecord(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	recs, err := st.ListSyncRecords(ctx, reconcile.ListOpts{ConnectorID: connA})
	if err != nil {
		t.Fatalf("list by connector: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("connector records = %d, want 2", len(recs))
	}

	recs, err = st.ListSyncRecords(ctx, reconcile.ListOpts{Status: reconcile.StatusRejected})
	if err != nil {
		t.Fatalf("list rejected: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("rejected records = %d, want 1", len(recs))
	}

	recs, err = st.ListSyncRecords(ctx, reconcile.ListOpts{From: time.Now().UTC().Add(time.Hour)})
	if err != nil {
		t.Fatalf("list future: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("future records = %d, want 0", len(recs))
	}
}
