package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/internal/keylock"
	"github.com/verdantiq/esgbridge/observability"
	"github.com/verdantiq/esgbridge/ratelimit"
	"go.opentelemetry.io/otel/trace"
)

// EngineStore is the subset of the store the reconciliation engine needs.
type EngineStore interface {
	Store
	GetConnector(ctx context.Context, connID id.ID) (*connector.Connector, error)
	UpsertEntity(ctx context.Context, e *canonical.Entity) error
	GetEntityByExternalID(ctx context.Context, connectorID id.ID, externalID string) (*canonical.Entity, error)
}

// Input is one inbound external record to reconcile.
type Input struct {
	ConnectorID id.ID          `json:"connector_id"`
	ExternalID  string         `json:"external_id"`
	EntityType  string         `json:"entity_type"`
	Data        map[string]any `json:"data"`

	// OverrideBy, when set, authorizes overwriting approved data and
	// names the operator who authorized it.
	OverrideBy string `json:"override_by,omitempty"`
}

// EngineConfig configures the reconciliation engine.
type EngineConfig struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Engine reconciles inbound external records into the staged canonical
// entity set. Reconciliations for the same (connector, external id) pair
// are serialized; distinct pairs run concurrently.
type Engine struct {
	store     EngineStore
	registry  *canonical.Registry
	mapper    *canonical.Mapper
	validator *canonical.Validator
	locks     *keylock.KeyLock
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(store EngineStore, registry *canonical.Registry, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		registry:  registry,
		mapper:    canonical.NewMapper(),
		validator: canonical.NewValidator(),
		locks:     keylock.New(),
		limiter:   ratelimit.New(),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		logger:    logger,
	}
}

// Reconcile maps one inbound record to the canonical shape and merges it
// into the staged entity set. Domain outcomes (rejected input, preserved
// approved data) are reported through the returned sync record with a nil
// error; a non-nil error means infrastructure failure or misconfiguration.
// A sync record is appended for every outcome that reaches the decision
// stage.
func (e *Engine) Reconcile(ctx context.Context, in Input) (*SyncRecord, error) {
	if in.ExternalID == "" {
		return nil, fmt.Errorf("reconcile: external id is required")
	}
	if in.EntityType == "" {
		return nil, fmt.Errorf("reconcile: entity type is required")
	}
	if in.Data == nil {
		return nil, fmt.Errorf("reconcile: data is required")
	}

	conn, err := e.store.GetConnector(ctx, in.ConnectorID)
	if err != nil {
		return nil, err
	}
	if !conn.Active {
		return nil, fmt.Errorf("%w: %s", ErrConnectorInactive, conn.ID)
	}

	if err := e.limiter.Wait(ctx, "connector:"+conn.ID.String(), conn.RateLimit); err != nil {
		return nil, err
	}

	mappings, version, err := e.registry.MappingSet(ctx, in.ConnectorID, in.EntityType)
	if err != nil {
		if errors.Is(err, canonical.ErrMappingNotFound) {
			return nil, fmt.Errorf("%w: connector %s entity type %q", ErrNoMappings, conn.ID, in.EntityType)
		}
		return nil, err
	}

	start := time.Now()
	span := trace.SpanFromContext(ctx)
	if e.tracer != nil {
		ctx, span = e.tracer.StartReconcileSpan(ctx, conn.ID.String(), in.ExternalID)
	}

	rec := &SyncRecord{
		Entity:        entity.New(),
		ID:            id.NewSyncRecordID(),
		ConnectorID:   conn.ID,
		ExternalID:    in.ExternalID,
		EntityType:    in.EntityType,
		SchemaVersion: version.Version,
		Status:        StatusPending,
	}
	if raw, err := json.Marshal(in.Data); err == nil {
		rec.Payload = raw
	}

	payload, err := e.mapper.Apply(mappings, version, in.Data)
	if err != nil {
		return e.finish(ctx, rec, StatusRejected, "", err.Error(), start, span)
	}

	if len(version.Schema) > 0 {
		if err := e.validator.Validate(version.Schema, payload); err != nil {
			return e.finish(ctx, rec, StatusRejected, "", err.Error(), start, span)
		}
	}

	key := conn.ID.String() + "/" + in.ExternalID
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	existing, err := e.store.GetEntityByExternalID(ctx, conn.ID, in.ExternalID)
	if err != nil && !errors.Is(err, canonical.ErrEntityNotFound) {
		rec2, _ := e.finish(ctx, rec, StatusFailed, "", err.Error(), start, span)
		return rec2, err
	}

	switch {
	case existing == nil:
		ent := &canonical.Entity{
			Entity:        entity.New(),
			ID:            id.NewEntityID(),
			ConnectorID:   conn.ID,
			ExternalID:    in.ExternalID,
			EntityType:    in.EntityType,
			SchemaVersion: version.Version,
			Payload:       payload,
		}
		if err := e.store.UpsertEntity(ctx, ent); err != nil {
			rec2, _ := e.finish(ctx, rec, StatusFailed, "", err.Error(), start, span)
			return rec2, err
		}
		rec.EntityID = ent.ID
		return e.finish(ctx, rec, StatusSuccess, ResolutionNoConflict, "", start, span)

	case !existing.IsApproved:
		existing.Payload = payload
		existing.SchemaVersion = version.Version
		existing.Touch()
		if err := e.store.UpsertEntity(ctx, existing); err != nil {
			rec2, _ := e.finish(ctx, rec, StatusFailed, "", err.Error(), start, span)
			return rec2, err
		}
		rec.EntityID = existing.ID
		return e.finish(ctx, rec, StatusSuccess, ResolutionNoConflict, "", start, span)

	case in.OverrideBy != "":
		existing.Payload = payload
		existing.SchemaVersion = version.Version
		existing.IsApproved = false
		existing.ApprovedBy = ""
		existing.ApprovedAt = nil
		existing.Touch()
		if err := e.store.UpsertEntity(ctx, existing); err != nil {
			rec2, _ := e.finish(ctx, rec, StatusFailed, "", err.Error(), start, span)
			return rec2, err
		}
		rec.EntityID = existing.ID
		rec.OverwroteApprovedData = true
		rec.ApprovedOverrideBy = in.OverrideBy
		e.logger.WarnContext(ctx, "approved data overwritten by admin override",
			"connector_id", conn.ID,
			"external_id", in.ExternalID,
			"entity_id", existing.ID,
			"override_by", in.OverrideBy,
		)
		return e.finish(ctx, rec, StatusSuccess, ResolutionAdminOverride, "", start, span)

	default:
		rec.EntityID = existing.ID
		return e.finish(ctx, rec, StatusConflictPreserved, ResolutionPreservedManual, "", start, span)
	}
}

// finish stamps the record's outcome, appends it and closes telemetry.
func (e *Engine) finish(ctx context.Context, rec *SyncRecord, status Status, resolution ConflictResolution, errMsg string, start time.Time, span trace.Span) (*SyncRecord, error) {
	rec.Status = status
	rec.Resolution = resolution
	rec.Error = errMsg
	rec.DurationMs = time.Since(start).Milliseconds()

	if e.metrics != nil {
		e.metrics.RecordSync(string(status))
		if status == StatusConflictPreserved {
			e.metrics.RecordConflict()
		}
	}
	if e.tracer != nil {
		e.tracer.EndReconcileSpan(span, string(status), string(resolution))
	}

	if err := e.store.CreateSyncRecord(ctx, rec); err != nil {
		return nil, err
	}

	if status != StatusSuccess {
		e.logger.InfoContext(ctx, "reconciliation finished",
			"sync_record_id", rec.ID,
			"connector_id", rec.ConnectorID,
			"external_id", rec.ExternalID,
			"status", status,
			"resolution", resolution,
		)
	}
	return rec, nil
}

// Record returns a sync record by ID.
func (e *Engine) Record(ctx context.Context, recID id.ID) (*SyncRecord, error) {
	return e.store.GetSyncRecord(ctx, recID)
}

// Records returns sync records matching opts, newest first.
func (e *Engine) Records(ctx context.Context, opts ListOpts) ([]*SyncRecord, error) {
	return e.store.ListSyncRecords(ctx, opts)
}
