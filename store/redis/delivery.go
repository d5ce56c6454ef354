package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	SubscriptionID   string          `json:"subscription_id"`
	EventType        string          `json:"event_type"`
	CorrelationID    string          `json:"correlation_id"`
	Payload          json.RawMessage `json:"payload"`
	Signature        string          `json:"signature,omitempty"`
	Status           string          `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
	MaxAttempts      int             `json:"max_attempts"`
	BaseDelaySeconds int             `json:"base_delay_seconds"`
	Exponential      bool            `json:"exponential"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	LastStatusCode   int             `json:"last_status_code,omitempty"`
	LastResponse     string          `json:"last_response,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	LastLatencyMs    int             `json:"last_latency_ms,omitempty"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ReplayOf         string          `json:"replay_of,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	m := &deliveryModel{
		ID:               d.ID.String(),
		EventID:          d.EventID.String(),
		SubscriptionID:   d.SubscriptionID.String(),
		EventType:        d.EventType,
		CorrelationID:    d.CorrelationID,
		Payload:          d.Payload,
		Signature:        d.Signature,
		Status:           string(d.Status),
		AttemptCount:     d.AttemptCount,
		MaxAttempts:      d.MaxAttempts,
		BaseDelaySeconds: d.BaseDelaySeconds,
		Exponential:      d.Exponential,
		NextRetryAt:      d.NextRetryAt,
		LastStatusCode:   d.LastStatusCode,
		LastResponse:     d.LastResponse,
		LastError:        d.LastError,
		LastLatencyMs:    d.LastLatencyMs,
		LastAttemptAt:    d.LastAttemptAt,
		CompletedAt:      d.CompletedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if !d.ReplayOf.IsNil() {
		m.ReplayOf = d.ReplayOf.String()
	}
	return m
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	dlvID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	d := &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               dlvID,
		EventID:          evtID,
		SubscriptionID:   subID,
		EventType:        m.EventType,
		CorrelationID:    m.CorrelationID,
		Payload:          m.Payload,
		Signature:        m.Signature,
		Status:           delivery.Status(m.Status),
		AttemptCount:     m.AttemptCount,
		MaxAttempts:      m.MaxAttempts,
		BaseDelaySeconds: m.BaseDelaySeconds,
		Exponential:      m.Exponential,
		NextRetryAt:      m.NextRetryAt,
		LastStatusCode:   m.LastStatusCode,
		LastResponse:     m.LastResponse,
		LastError:        m.LastError,
		LastLatencyMs:    m.LastLatencyMs,
		LastAttemptAt:    m.LastAttemptAt,
		CompletedAt:      m.CompletedAt,
	}
	if m.ReplayOf != "" {
		replayID, err := id.ParseDeliveryID(m.ReplayOf)
		if err != nil {
			return nil, fmt.Errorf("parse replay delivery ID %q: %w", m.ReplayOf, err)
		}
		d.ReplayOf = replayID
	}
	return d, nil
}

// dueScore is the sorted set score at which a delivery becomes claimable.
// Pending deliveries are due immediately; retrying ones at NextRetryAt.
func dueScore(m *deliveryModel) float64 {
	if delivery.Status(m.Status) == delivery.StatusRetrying && m.NextRetryAt != nil {
		return scoreFromTime(*m.NextRetryAt)
	}
	return scoreFromTime(m.CreatedAt)
}

// claimScript atomically claims due deliveries from the sorted set.
// KEYS[1] = esgb:z:dlv:due
// KEYS[2] = esgb:s:dlv:inflight
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('SADD', KEYS[2], id)
end
return ids
`)

func (s *Store) EnqueueDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: enqueue delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(m), Member: m.ID})
	pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("esgbridge/redis: enqueue delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) EnqueueDeliveryBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		m := toDeliveryModel(d)
		key := entityKey(prefixDelivery, m.ID)

		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("esgbridge/redis: enqueue batch marshal: %w", err)
		}
		pipe.Set(ctx, key, raw, 0)
		pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(m), Member: m.ID})
		pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("esgbridge/redis: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, claimTime time.Time, limit int) ([]*delivery.Delivery, error) {
	// Atomically claim due delivery IDs using Lua script.
	nowScore := fmt.Sprintf("%f", scoreFromTime(claimTime))
	result, err := claimScript.Run(ctx, s.rdb, []string{zDeliveryDue, sDeliveryInFlight}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("esgbridge/redis: claim script: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	// Fetch and flip each claimed delivery to in_progress.
	deliveries := make([]*delivery.Delivery, 0, len(result))
	for _, entryID := range result {
		key := entityKey(prefixDelivery, entryID)
		var m deliveryModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("esgbridge/redis: claim get: %w", err)
		}

		m.Status = string(delivery.StatusInProgress)
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("esgbridge/redis: claim update: %w", err)
		}

		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func (s *Store) ClaimDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	key := entityKey(prefixDelivery, dlvID.String())

	var m deliveryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: claim delivery get: %w", err)
	}

	switch delivery.Status(m.Status) {
	case delivery.StatusSucceeded, delivery.StatusFailed:
		return nil, delivery.ErrDeliveryCompleted
	case delivery.StatusInProgress:
		return nil, delivery.ErrClaimed
	}

	m.Status = string(delivery.StatusInProgress)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, fmt.Errorf("esgbridge/redis: claim delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zDeliveryDue, m.ID)
	pipe.SAdd(ctx, sDeliveryInFlight, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("esgbridge/redis: claim delivery indexes: %w", err)
	}

	return fromDeliveryModel(&m)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	key := entityKey(prefixDelivery, d.ID.String())

	// Terminal deliveries are immutable.
	var existing deliveryModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return delivery.ErrNotFound
		}
		return fmt.Errorf("esgbridge/redis: update delivery get: %w", err)
	}
	switch delivery.Status(existing.Status) {
	case delivery.StatusSucceeded, delivery.StatusFailed:
		return delivery.ErrDeliveryCompleted
	}

	m := toDeliveryModel(d)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: update delivery: %w", err)
	}

	// Keep the due set and in-flight set in sync with the new status.
	pipe := s.rdb.Pipeline()
	switch d.Status {
	case delivery.StatusPending, delivery.StatusRetrying:
		pipe.SRem(ctx, sDeliveryInFlight, m.ID)
		pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(m), Member: m.ID})
	case delivery.StatusSucceeded, delivery.StatusFailed:
		pipe.SRem(ctx, sDeliveryInFlight, m.ID)
		pipe.ZRem(ctx, zDeliveryDue, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("esgbridge/redis: update delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, dlvID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		if opts.From != nil && m.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && m.CreatedAt.After(*opts.To) {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	pipe := s.rdb.Pipeline()
	due := pipe.ZCard(ctx, zDeliveryDue)
	inflight := pipe.SCard(ctx, sDeliveryInFlight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("esgbridge/redis: count pending: %w", err)
	}
	return due.Val() + inflight.Val(), nil
}
