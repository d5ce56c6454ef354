package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// connectorModel is the JSON representation stored in Redis.
type connectorModel struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Endpoint  string            `json:"endpoint,omitempty"`
	AuthRef   string            `json:"auth_ref,omitempty"`
	RateLimit int               `json:"rate_limit"`
	Active    bool              `json:"active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toConnectorModel(c *connector.Connector) *connectorModel {
	return &connectorModel{
		ID:        c.ID.String(),
		Name:      c.Name,
		Kind:      string(c.Kind),
		Endpoint:  c.Endpoint,
		AuthRef:   c.AuthRef,
		RateLimit: c.RateLimit,
		Active:    c.Active,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromConnectorModel(m *connectorModel) (*connector.Connector, error) {
	connID, err := id.ParseConnectorID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ID, err)
	}
	return &connector.Connector{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        connID,
		Name:      m.Name,
		Kind:      connector.Kind(m.Kind),
		Endpoint:  m.Endpoint,
		AuthRef:   m.AuthRef,
		RateLimit: m.RateLimit,
		Active:    m.Active,
		Metadata:  m.Metadata,
	}, nil
}

func (s *Store) CreateConnector(ctx context.Context, c *connector.Connector) error {
	m := toConnectorModel(c)
	key := entityKey(prefixConnector, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: create connector: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, zConnectorAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("esgbridge/redis: create connector index: %w", err)
	}
	return nil
}

func (s *Store) GetConnector(ctx context.Context, connID id.ID) (*connector.Connector, error) {
	var m connectorModel
	if err := s.getEntity(ctx, entityKey(prefixConnector, connID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, connector.ErrNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get connector: %w", err)
	}
	return fromConnectorModel(&m)
}

func (s *Store) UpdateConnector(ctx context.Context, c *connector.Connector) error {
	key := entityKey(prefixConnector, c.ID.String())

	// Verify existence.
	var existing connectorModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return connector.ErrNotFound
		}
		return fmt.Errorf("esgbridge/redis: update connector get: %w", err)
	}

	m := toConnectorModel(c)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: update connector: %w", err)
	}
	return nil
}

func (s *Store) DeleteConnector(ctx context.Context, connID id.ID) error {
	key := entityKey(prefixConnector, connID.String())

	var m connectorModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return connector.ErrNotFound
		}
		return fmt.Errorf("esgbridge/redis: delete connector get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("esgbridge/redis: delete connector: %w", err)
	}

	if err := s.rdb.ZRem(ctx, zConnectorAll, m.ID).Err(); err != nil {
		return fmt.Errorf("esgbridge/redis: delete connector index: %w", err)
	}
	return nil
}

func (s *Store) ListConnectors(ctx context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	ids, err := s.rdb.ZRange(ctx, zConnectorAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list connectors: %w", err)
	}

	result := make([]*connector.Connector, 0, len(ids))
	for _, entryID := range ids {
		var m connectorModel
		if err := s.getEntity(ctx, entityKey(prefixConnector, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Kind != "" && connector.Kind(m.Kind) != opts.Kind {
			continue
		}
		if opts.ActiveOnly && !m.Active {
			continue
		}
		c, err := fromConnectorModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
