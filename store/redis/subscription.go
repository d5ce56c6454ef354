package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Description         string            `json:"description,omitempty"`
	Secret              string            `json:"secret"`
	EventTypes          []string          `json:"event_types"`
	Status              string            `json:"status"`
	MaxAttempts         int               `json:"max_attempts"`
	BaseDelaySeconds    int               `json:"base_delay_seconds"`
	Exponential         bool              `json:"exponential"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	DegradedAt          *time.Time        `json:"degraded_at,omitempty"`
	DegradedReason      string            `json:"degraded_reason,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	RateLimit           int               `json:"rate_limit"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                  sub.ID.String(),
		Name:                sub.Name,
		URL:                 sub.URL,
		Description:         sub.Description,
		Secret:              sub.Secret,
		EventTypes:          sub.EventTypes,
		Status:              string(sub.Status),
		MaxAttempts:         sub.RetryPolicy.MaxAttempts,
		BaseDelaySeconds:    sub.RetryPolicy.BaseDelaySeconds,
		Exponential:         sub.RetryPolicy.Exponential,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		DegradedAt:          sub.DegradedAt,
		DegradedReason:      sub.DegradedReason,
		Headers:             sub.Headers,
		RateLimit:           sub.RateLimit,
		Metadata:            sub.Metadata,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		Name:        m.Name,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Status:      subscription.Status(m.Status),
		RetryPolicy: subscription.RetryPolicy{
			MaxAttempts:      m.MaxAttempts,
			BaseDelaySeconds: m.BaseDelaySeconds,
			Exponential:      m.Exponential,
		},
		ConsecutiveFailures: m.ConsecutiveFailures,
		DegradedAt:          m.DegradedAt,
		DegradedReason:      m.DegradedReason,
		Headers:             m.Headers,
		RateLimit:           m.RateLimit,
		Metadata:            m.Metadata,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubscriptionAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if subscription.Status(m.Status) == subscription.StatusActive {
		pipe.SAdd(ctx, sSubscriptionActive, m.ID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("esgbridge/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("esgbridge/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	// Verify existence.
	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("esgbridge/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("esgbridge/redis: update subscription: %w", err)
	}

	// Update active set.
	if subscription.Status(m.Status) == subscription.StatusActive {
		s.rdb.SAdd(ctx, sSubscriptionActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubscriptionActive, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("esgbridge/redis: delete subscription get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("esgbridge/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubscriptionAll, m.ID)
	pipe.SRem(ctx, sSubscriptionActive, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("esgbridge/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubscriptionAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && subscription.Status(m.Status) != *opts.Status {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubscriptionActive).Result()
	if err != nil {
		return nil, fmt.Errorf("esgbridge/redis: resolve: %w", err)
	}

	var result []*subscription.Subscription
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, pattern := range m.EventTypes {
			if subscription.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&m)
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
