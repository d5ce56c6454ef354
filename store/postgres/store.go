// Package postgres implements store.Store using PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/reconcile"
	bridgestore "github.com/verdantiq/esgbridge/store"
	"github.com/verdantiq/esgbridge/subscription"
)

// compile-time interface check
var _ bridgestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("esgbridge/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("esgbridge/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

	if opts.Status != nil {
		q = q.Where("status = $1", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.pg.NewSelect(&models).
		Where("status = $1", string(subscription.StatusActive)).
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*subscription.Subscription
	for i := range models {
		for _, pattern := range models[i].EventTypes {
			if subscription.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&models[i])
				if err != nil {
					return nil, err
				}
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)

	if evt.IdempotencyKey != "" {
		// ON CONFLICT DO NOTHING against the partial unique index.
		res, err := s.pg.NewInsert(m).
			OnConflict("(idempotency_key) WHERE idempotency_key != '' DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return event.ErrDuplicateIdempotencyKey
		}
		return nil
	}

	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) EnqueueDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) EnqueueDeliveryBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	// Raw SQL for the FOR UPDATE SKIP LOCKED claim pattern. The status
	// flip to in_progress is the claim.
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE esgbridge_deliveries
		SET status = 'in_progress', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM esgbridge_deliveries
			WHERE status = 'pending'
			   OR (status = 'retrying' AND next_retry_at <= $1)
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) ClaimDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE esgbridge_deliveries
		SET status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
		RETURNING *
	`, dlvID.String()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	if len(models) == 0 {
		// Distinguish missing, terminal and concurrently claimed rows.
		d, getErr := s.GetDelivery(ctx, dlvID)
		if getErr != nil {
			return nil, getErr
		}
		if d.Terminal() {
			return nil, delivery.ErrDeliveryCompleted
		}
		return nil, delivery.ErrClaimed
	}
	return fromDeliveryModel(&models[0])
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Where("status NOT IN ('succeeded', 'failed')").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		existing, getErr := s.GetDelivery(ctx, d.ID)
		if getErr != nil {
			return getErr
		}
		if existing.Terminal() {
			return delivery.ErrDeliveryCompleted
		}
		return delivery.ErrNotFound
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", dlvID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

	argIdx := 1
	if opts.Status != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(*opts.Status))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		OrderExpr("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*deliveryModel)(nil)).
		Where("status IN ('pending', 'retrying', 'in_progress')").
		Count(ctx)
	return count, err
}

// ==================== Connector Store ====================

func (s *Store) CreateConnector(ctx context.Context, c *connector.Connector) error {
	m := toConnectorModel(c)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetConnector(ctx context.Context, connID id.ID) (*connector.Connector, error) {
	m := new(connectorModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", connID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, connector.ErrNotFound
		}
		return nil, err
	}
	return fromConnectorModel(m)
}

func (s *Store) UpdateConnector(ctx context.Context, c *connector.Connector) error {
	m := toConnectorModel(c)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return connector.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConnector(ctx context.Context, connID id.ID) error {
	res, err := s.pg.NewDelete((*connectorModel)(nil)).
		Where("id = $1", connID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return connector.ErrNotFound
	}
	return nil
}

func (s *Store) ListConnectors(ctx context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	var models []connectorModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
	}
	if opts.ActiveOnly {
		q = q.Where("active = true")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*connector.Connector, len(models))
	for i := range models {
		c, err := fromConnectorModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Canonical Store ====================

func (s *Store) CreateSchemaVersion(ctx context.Context, v *canonical.SchemaVersion) error {
	m := toSchemaVersionModel(v)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSchemaVersion(ctx context.Context, entityType string, version int) (*canonical.SchemaVersion, error) {
	m := new(schemaVersionModel)
	err := s.pg.NewSelect(m).
		Where("entity_type = $1", entityType).
		Where("version = $2", version).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, canonical.ErrVersionNotFound
		}
		return nil, err
	}
	return fromSchemaVersionModel(m)
}

func (s *Store) MaxSchemaVersion(ctx context.Context, entityType string) (int, error) {
	m := new(schemaVersionModel)
	err := s.pg.NewSelect(m).
		Where("entity_type = $1", entityType).
		OrderExpr("version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.Version, nil
}

func (s *Store) ListSchemaVersions(ctx context.Context, entityType string) ([]*canonical.SchemaVersion, error) {
	var models []schemaVersionModel
	if err := s.pg.NewSelect(&models).
		Where("entity_type = $1", entityType).
		OrderExpr("version ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.SchemaVersion, len(models))
	for i := range models {
		v, err := fromSchemaVersionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

func (s *Store) UpdateSchemaVersion(ctx context.Context, v *canonical.SchemaVersion) error {
	m := toSchemaVersionModel(v)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return canonical.ErrVersionNotFound
	}
	return nil
}

func (s *Store) CreateMapping(ctx context.Context, mp *canonical.Mapping) error {
	m := toMappingModel(mp)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetMapping(ctx context.Context, mapID id.ID) (*canonical.Mapping, error) {
	m := new(mappingModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", mapID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, canonical.ErrMappingNotFound
		}
		return nil, err
	}
	return fromMappingModel(m)
}

func (s *Store) ListMappings(ctx context.Context, connectorID id.ID, opts canonical.MappingListOpts) ([]*canonical.Mapping, error) {
	var models []mappingModel
	q := s.pg.NewSelect(&models).Where("connector_id = $1", connectorID.String())

	argIdx := 1
	if opts.EntityType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("entity_type = $%d", argIdx), opts.EntityType)
	}
	if opts.SchemaVersion > 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("schema_version = $%d", argIdx), opts.SchemaVersion)
	}
	if opts.ActiveOnly {
		q = q.Where("active = true")
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.Mapping, len(models))
	for i := range models {
		mp, err := fromMappingModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = mp
	}
	return result, nil
}

func (s *Store) UpdateMapping(ctx context.Context, mp *canonical.Mapping) error {
	m := toMappingModel(mp)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return canonical.ErrMappingNotFound
	}
	return nil
}

func (s *Store) DeleteMapping(ctx context.Context, mapID id.ID) error {
	res, err := s.pg.NewDelete((*mappingModel)(nil)).
		Where("id = $1", mapID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return canonical.ErrMappingNotFound
	}
	return nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *canonical.Entity) error {
	m := toEntityModel(e)

	// Optimistic update first: the revision predicate loses races cleanly.
	m.Revision = e.Revision + 1
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Where("revision = $1", e.Revision).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		e.Revision++
		return nil
	}

	// No row matched: either the entity is new or the revision is stale.
	count, err := s.pg.NewSelect((*entityModel)(nil)).
		Where("id = $1", e.ID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return canonical.ErrRevisionConflict
	}

	e.Revision = 1
	m.Revision = 1
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEntity(ctx context.Context, entID id.ID) (*canonical.Entity, error) {
	m := new(entityModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", entID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, err
	}
	return fromEntityModel(m)
}

func (s *Store) GetEntityByExternalID(ctx context.Context, connectorID id.ID, externalID string) (*canonical.Entity, error) {
	m := new(entityModel)
	err := s.pg.NewSelect(m).
		Where("connector_id = $1", connectorID.String()).
		Where("external_id = $2", externalID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, err
	}
	return fromEntityModel(m)
}

func (s *Store) ListEntities(ctx context.Context, opts canonical.EntityListOpts) ([]*canonical.Entity, error) {
	var models []entityModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.EntityType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("entity_type = $%d", argIdx), opts.EntityType)
	}
	if opts.ConnectorID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("connector_id = $%d", argIdx), opts.ConnectorID.String())
	}
	if opts.Approved != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_approved = $%d", argIdx), *opts.Approved)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.Entity, len(models))
	for i := range models {
		e, err := fromEntityModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Reconcile Store ====================

func (s *Store) CreateSyncRecord(ctx context.Context, rec *reconcile.SyncRecord) error {
	m := toSyncRecordModel(rec)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSyncRecord(ctx context.Context, recID id.ID) (*reconcile.SyncRecord, error) {
	m := new(syncRecordModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrRecordNotFound
		}
		return nil, err
	}
	return fromSyncRecordModel(m)
}

func (s *Store) ListSyncRecords(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.SyncRecord, error) {
	var models []syncRecordModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.ConnectorID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("connector_id = $%d", argIdx), opts.ConnectorID.String())
	}
	if opts.EntityType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("entity_type = $%d", argIdx), opts.EntityType)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.From.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), opts.From)
	}
	if !opts.To.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*reconcile.SyncRecord, len(models))
	for i := range models {
		rec, err := fromSyncRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
