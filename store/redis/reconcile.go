package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/reconcile"
)

// syncRecordModel is the JSON representation stored in Redis.
type syncRecordModel struct {
	ID                    string          `json:"id"`
	ConnectorID           string          `json:"connector_id"`
	ExternalID            string          `json:"external_id"`
	EntityType            string          `json:"entity_type"`
	EntityID              string          `json:"entity_id,omitempty"`
	SchemaVersion         int             `json:"schema_version,omitempty"`
	Status                string          `json:"status"`
	Resolution            string          `json:"resolution,omitempty"`
	OverwroteApprovedData bool            `json:"overwrote_approved_data,omitempty"`
	ApprovedOverrideBy    string          `json:"approved_override_by,omitempty"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	Error                 string          `json:"error,omitempty"`
	DurationMs            int64           `json:"duration_ms"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func toSyncRecordModel(rec *reconcile.SyncRecord) *syncRecordModel {
	m := &syncRecordModel{
		ID:                    rec.ID.String(),
		ConnectorID:           rec.ConnectorID.String(),
		ExternalID:            rec.ExternalID,
		EntityType:            rec.EntityType,
		SchemaVersion:         rec.SchemaVersion,
		Status:                string(rec.Status),
		Resolution:            string(rec.Resolution),
		OverwroteApprovedData: rec.OverwroteApprovedData,
		ApprovedOverrideBy:    rec.ApprovedOverrideBy,
		Payload:               rec.Payload,
		Error:                 rec.Error,
		DurationMs:            rec.DurationMs,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
	if !rec.EntityID.IsNil() {
		m.EntityID = rec.EntityID.String()
	}
	return m
}

func fromSyncRecordModel(m *syncRecordModel) (*reconcile.SyncRecord, error) {
	recID, err := id.ParseSyncRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse sync record ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	rec := &reconcile.SyncRecord{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                    recID,
		ConnectorID:           connID,
		ExternalID:            m.ExternalID,
		EntityType:            m.EntityType,
		SchemaVersion:         m.SchemaVersion,
		Status:                reconcile.Status(m.Status),
		Resolution:            reconcile.ConflictResolution(m.Resolution),
		OverwroteApprovedData: m.OverwroteApprovedData,
		ApprovedOverrideBy:    m.ApprovedOverrideBy,
		Payload:               m.Payload,
		Error:                 m.Error,
		DurationMs:            m.DurationMs,
	}
	if m.EntityID != "" {
		entID, err := id.ParseEntityID(m.EntityID)
		if err != nil {
			return nil, fmt.Errorf("parse entity ID %q: %w", m.EntityID, err)
		}
		rec.EntityID = entID
	}
	return rec, nil
}

func (s *Store) CreateSyncRecord(ctx context.Context, rec *reconcile.SyncRecord) error {
	m := toSyncRecordModel(rec)
	key := entityKey(prefixSyncRecord, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: create sync record: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSyncAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zSyncConn+m.ConnectorID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("esgbridge/redis: create sync record indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSyncRecord(ctx context.Context, recID id.ID) (*reconcile.SyncRecord, error) {
	var m syncRecordModel
	if err := s.getEntity(ctx, entityKey(prefixSyncRecord, recID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, reconcile.ErrRecordNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get sync record: %w", err)
	}
	return fromSyncRecordModel(&m)
}

func (s *Store) ListSyncRecords(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.SyncRecord, error) {
	indexKey := zSyncAll
	if !opts.ConnectorID.IsNil() {
		indexKey = zSyncConn + opts.ConnectorID.String()
	}

	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list sync records: %w", err)
	}

	result := make([]*reconcile.SyncRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m syncRecordModel
		if err := s.getEntity(ctx, entityKey(prefixSyncRecord, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.EntityType != "" && m.EntityType != opts.EntityType {
			continue
		}
		if opts.Status != "" && reconcile.Status(m.Status) != opts.Status {
			continue
		}
		if !opts.From.IsZero() && m.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && m.CreatedAt.After(opts.To) {
			continue
		}
		rec, err := fromSyncRecordModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
