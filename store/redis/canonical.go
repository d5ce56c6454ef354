package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// schemaVersionModel is the JSON representation stored in Redis.
type schemaVersionModel struct {
	ID                     string                `json:"id"`
	EntityType             string                `json:"entity_type"`
	Version                int                   `json:"version"`
	BackwardCompatibleWith *int                  `json:"backward_compatible_with,omitempty"`
	Attributes             []canonical.Attribute `json:"attributes"`
	Schema                 json.RawMessage       `json:"schema,omitempty"`
	IsDeprecated           bool                  `json:"deprecated"`
	DeprecatedAt           *time.Time            `json:"deprecated_at,omitempty"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
}

func toSchemaVersionModel(v *canonical.SchemaVersion) *schemaVersionModel {
	return &schemaVersionModel{
		ID:                     v.ID.String(),
		EntityType:             v.EntityType,
		Version:                v.Version,
		BackwardCompatibleWith: v.BackwardCompatibleWith,
		Attributes:             v.Attributes,
		Schema:                 v.Schema,
		IsDeprecated:           v.IsDeprecated,
		DeprecatedAt:           v.DeprecatedAt,
		CreatedAt:              v.CreatedAt,
		UpdatedAt:              v.UpdatedAt,
	}
}

func fromSchemaVersionModel(m *schemaVersionModel) (*canonical.SchemaVersion, error) {
	verID, err := id.ParseSchemaVersionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse schema version ID %q: %w", m.ID, err)
	}
	return &canonical.SchemaVersion{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     verID,
		EntityType:             m.EntityType,
		Version:                m.Version,
		BackwardCompatibleWith: m.BackwardCompatibleWith,
		Attributes:             m.Attributes,
		Schema:                 m.Schema,
		IsDeprecated:           m.IsDeprecated,
		DeprecatedAt:           m.DeprecatedAt,
	}, nil
}

// mappingModel is the JSON representation stored in Redis.
type mappingModel struct {
	ID              string         `json:"id"`
	ConnectorID     string         `json:"connector_id"`
	EntityType      string         `json:"entity_type"`
	SchemaVersion   int            `json:"schema_version"`
	ExternalField   string         `json:"external_field"`
	Attribute       string         `json:"attribute"`
	Transform       string         `json:"transform"`
	TransformParams map[string]any `json:"transform_params,omitempty"`
	Required        bool           `json:"required"`
	Default         any            `json:"default,omitempty"`
	Priority        int            `json:"priority"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func toMappingModel(mp *canonical.Mapping) *mappingModel {
	return &mappingModel{
		ID:              mp.ID.String(),
		ConnectorID:     mp.ConnectorID.String(),
		EntityType:      mp.EntityType,
		SchemaVersion:   mp.SchemaVersion,
		ExternalField:   mp.ExternalField,
		Attribute:       mp.Attribute,
		Transform:       string(mp.Transform),
		TransformParams: mp.TransformParams,
		Required:        mp.Required,
		Default:         mp.Default,
		Priority:        mp.Priority,
		Active:          mp.Active,
		CreatedAt:       mp.CreatedAt,
		UpdatedAt:       mp.UpdatedAt,
	}
}

func fromMappingModel(m *mappingModel) (*canonical.Mapping, error) {
	mapID, err := id.ParseMappingID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse mapping ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	return &canonical.Mapping{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              mapID,
		ConnectorID:     connID,
		EntityType:      m.EntityType,
		SchemaVersion:   m.SchemaVersion,
		ExternalField:   m.ExternalField,
		Attribute:       m.Attribute,
		Transform:       canonical.TransformType(m.Transform),
		TransformParams: m.TransformParams,
		Required:        m.Required,
		Default:         m.Default,
		Priority:        m.Priority,
		Active:          m.Active,
	}, nil
}

// canonEntityModel is the JSON representation stored in Redis.
type canonEntityModel struct {
	ID            string         `json:"id"`
	ConnectorID   string         `json:"connector_id"`
	ExternalID    string         `json:"external_id"`
	EntityType    string         `json:"entity_type"`
	SchemaVersion int            `json:"schema_version"`
	Payload       map[string]any `json:"payload"`
	IsApproved    bool           `json:"is_approved"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	Revision      int            `json:"revision"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func toCanonEntityModel(e *canonical.Entity) *canonEntityModel {
	return &canonEntityModel{
		ID:            e.ID.String(),
		ConnectorID:   e.ConnectorID.String(),
		ExternalID:    e.ExternalID,
		EntityType:    e.EntityType,
		SchemaVersion: e.SchemaVersion,
		Payload:       e.Payload,
		IsApproved:    e.IsApproved,
		ApprovedBy:    e.ApprovedBy,
		ApprovedAt:    e.ApprovedAt,
		Revision:      e.Revision,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func fromCanonEntityModel(m *canonEntityModel) (*canonical.Entity, error) {
	entID, err := id.ParseEntityID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse entity ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	return &canonical.Entity{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            entID,
		ConnectorID:   connID,
		ExternalID:    m.ExternalID,
		EntityType:    m.EntityType,
		SchemaVersion: m.SchemaVersion,
		Payload:       m.Payload,
		IsApproved:    m.IsApproved,
		ApprovedBy:    m.ApprovedBy,
		ApprovedAt:    m.ApprovedAt,
		Revision:      m.Revision,
	}, nil
}

// ==================== Schema Versions ====================

func (s *Store) CreateSchemaVersion(ctx context.Context, v *canonical.SchemaVersion) error {
	m := toSchemaVersionModel(v)
	key := entityKey(prefixSchemaVersion, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: create schema version: %w", err)
	}

	// Score is the version number, so range queries resolve versions.
	if err := s.rdb.ZAdd(ctx, zSchemaVersions+m.EntityType, goredis.Z{
		Score:  float64(m.Version),
		Member: m.ID,
	}).Err(); err != nil {
		return fmt.Errorf("esgbridge/redis: create schema version index: %w", err)
	}
	return nil
}

func (s *Store) GetSchemaVersion(ctx context.Context, entityType string, version int) (*canonical.SchemaVersion, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zSchemaVersions+entityType, float64(version), float64(version))
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: get schema version index: %w", err)
	}
	if len(ids) == 0 {
		return nil, canonical.ErrVersionNotFound
	}

	var m schemaVersionModel
	if err := s.getEntity(ctx, entityKey(prefixSchemaVersion, ids[0]), &m); err != nil {
		if isNotFound(err) {
			return nil, canonical.ErrVersionNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get schema version: %w", err)
	}
	return fromSchemaVersionModel(&m)
}

func (s *Store) MaxSchemaVersion(ctx context.Context, entityType string) (int, error) {
	entries, err := s.rdb.ZRevRangeWithScores(ctx, zSchemaVersions+entityType, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("esgbridge/redis: max schema version: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return int(entries[0].Score), nil
}

func (s *Store) ListSchemaVersions(ctx context.Context, entityType string) ([]*canonical.SchemaVersion, error) {
	ids, err := s.rdb.ZRange(ctx, zSchemaVersions+entityType, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list schema versions: %w", err)
	}

	result := make([]*canonical.SchemaVersion, 0, len(ids))
	for _, entryID := range ids {
		var m schemaVersionModel
		if err := s.getEntity(ctx, entityKey(prefixSchemaVersion, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		v, err := fromSchemaVersionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func (s *Store) UpdateSchemaVersion(ctx context.Context, v *canonical.SchemaVersion) error {
	key := entityKey(prefixSchemaVersion, v.ID.String())

	var existing schemaVersionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return canonical.ErrVersionNotFound
		}
		return fmt.Errorf("esgbridge/redis: update schema version get: %w", err)
	}

	m := toSchemaVersionModel(v)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: update schema version: %w", err)
	}
	return nil
}

// ==================== Mappings ====================

func (s *Store) CreateMapping(ctx context.Context, mp *canonical.Mapping) error {
	m := toMappingModel(mp)
	key := entityKey(prefixMapping, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: create mapping: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, zMappingConn+m.ConnectorID, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err(); err != nil {
		return fmt.Errorf("esgbridge/redis: create mapping index: %w", err)
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, mapID id.ID) (*canonical.Mapping, error) {
	var m mappingModel
	if err := s.getEntity(ctx, entityKey(prefixMapping, mapID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, canonical.ErrMappingNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get mapping: %w", err)
	}
	return fromMappingModel(&m)
}

func (s *Store) ListMappings(ctx context.Context, connectorID id.ID, opts canonical.MappingListOpts) ([]*canonical.Mapping, error) {
	ids, err := s.rdb.ZRange(ctx, zMappingConn+connectorID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list mappings: %w", err)
	}

	result := make([]*canonical.Mapping, 0, len(ids))
	for _, entryID := range ids {
		var m mappingModel
		if err := s.getEntity(ctx, entityKey(prefixMapping, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
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
		mp, err := fromMappingModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, mp)
	}
	return result, nil
}

func (s *Store) UpdateMapping(ctx context.Context, mp *canonical.Mapping) error {
	key := entityKey(prefixMapping, mp.ID.String())

	var existing mappingModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return canonical.ErrMappingNotFound
		}
		return fmt.Errorf("esgbridge/redis: update mapping get: %w", err)
	}

	m := toMappingModel(mp)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: update mapping: %w", err)
	}
	return nil
}

func (s *Store) DeleteMapping(ctx context.Context, mapID id.ID) error {
	key := entityKey(prefixMapping, mapID.String())

	var m mappingModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return canonical.ErrMappingNotFound
		}
		return fmt.Errorf("esgbridge/redis: delete mapping get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("esgbridge/redis: delete mapping: %w", err)
	}

	if err := s.rdb.ZRem(ctx, zMappingConn+m.ConnectorID, m.ID).Err(); err != nil {
		return fmt.Errorf("esgbridge/redis: delete mapping index: %w", err)
	}
	return nil
}

// ==================== Canonical Entities ====================

func (s *Store) UpsertEntity(ctx context.Context, e *canonical.Entity) error {
	key := entityKey(prefixCanonEntity, e.ID.String())

	var existing canonEntityModel
	err := s.getEntity(ctx, key, &existing)
	switch {
	case err == nil:
		if existing.Revision != e.Revision {
			return canonical.ErrRevisionConflict
		}
		e.Revision++
	case isNotFound(err):
		e.Revision = 1
	default:
		return fmt.Errorf("esgbridge/redis: upsert entity get: %w", err)
	}

	m := toCanonEntityModel(e)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: upsert entity: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, externalIDKey(m.ConnectorID, m.ExternalID), m.ID, 0)
	pipe.ZAdd(ctx, zCanonEntityAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("esgbridge/redis: upsert entity indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, entID id.ID) (*canonical.Entity, error) {
	var m canonEntityModel
	if err := s.getEntity(ctx, entityKey(prefixCanonEntity, entID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get entity: %w", err)
	}
	return fromCanonEntityModel(&m)
}

func (s *Store) GetEntityByExternalID(ctx context.Context, connectorID id.ID, externalID string) (*canonical.Entity, error) {
	entryID, err := s.rdb.Get(ctx, externalIDKey(connectorID.String(), externalID)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get entity by external ID: %w", err)
	}

	var m canonEntityModel
	if err := s.getEntity(ctx, entityKey(prefixCanonEntity, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get entity: %w", err)
	}
	return fromCanonEntityModel(&m)
}

func (s *Store) ListEntities(ctx context.Context, opts canonical.EntityListOpts) ([]*canonical.Entity, error) {
	ids, err := s.rdb.ZRange(ctx, zCanonEntityAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list entities: %w", err)
	}

	result := make([]*canonical.Entity, 0, len(ids))
	for _, entryID := range ids {
		var m canonEntityModel
		if err := s.getEntity(ctx, entityKey(prefixCanonEntity, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.EntityType != "" && m.EntityType != opts.EntityType {
			continue
		}
		if opts.ConnectorID != nil && m.ConnectorID != opts.ConnectorID.String() {
			continue
		}
		if opts.Approved != nil && m.IsApproved != *opts.Approved {
			continue
		}
		e, err := fromCanonEntityModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
