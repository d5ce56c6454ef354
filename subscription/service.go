package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/observability"
	"github.com/verdantiq/esgbridge/signature"
)

// Config configures the subscription service.
type Config struct {
	// DegradedThreshold is the number of consecutive delivery failures
	// after which an Active subscription is moved to Degraded.
	DegradedThreshold int

	// VerifyTimeout bounds the verification handshake HTTP call.
	VerifyTimeout time.Duration

	// Metrics, when set, tracks the degraded subscription gauge.
	Metrics *observability.Metrics
}

// Service provides subscription management operations.
type Service struct {
	store   Store
	config  Config
	client  *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 5
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	return &Service{
		store:   store,
		config:  cfg,
		client:  &http.Client{Timeout: cfg.VerifyTimeout},
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Create registers a new webhook subscription in PendingVerification state.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type pattern required"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	policy := DefaultRetryPolicy
	if in.RetryPolicy != nil {
		if in.RetryPolicy.MaxAttempts <= 0 {
			return nil, &ValidationError{Field: "retry_policy.max_attempts", Message: "must be positive"}
		}
		if in.RetryPolicy.BaseDelaySeconds <= 0 {
			return nil, &ValidationError{Field: "retry_policy.base_delay_seconds", Message: "must be positive"}
		}
		policy = *in.RetryPolicy
	}

	sub := &Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		Name:        in.Name,
		URL:         in.URL,
		Description: in.Description,
		Secret:      secret,
		EventTypes:  in.EventTypes,
		Status:      StatusPendingVerification,
		RetryPolicy: policy,
		Headers:     in.Headers,
		RateLimit:   in.RateLimit,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription. Status is not updatable here;
// use the explicit lifecycle operations.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		sub.URL = in.URL
	}
	if in.Name != "" {
		sub.Name = in.Name
	}
	if in.Description != "" {
		sub.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		sub.EventTypes = in.EventTypes
	}
	if in.RetryPolicy != nil {
		sub.RetryPolicy = *in.RetryPolicy
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.RateLimit >= 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}
	sub.Touch()

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, opts)
}

// verifyChallenge is the body of the verification handshake POST.
type verifyChallenge struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
	Challenge      string `json:"challenge"`
}

// Verify performs the verification handshake: a signed POST with a random
// challenge. Any 2xx response transitions the subscription from
// PendingVerification to Active.
func (svc *Service) Verify(ctx context.Context, subID id.ID) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if sub.Status != StatusPendingVerification {
		return nil, fmt.Errorf("%w: verify from %s", ErrInvalidTransition, sub.Status)
	}

	body, err := json.Marshal(verifyChallenge{
		Type:           "subscription.verify",
		SubscriptionID: sub.ID.String(),
		Challenge:      signature.GenerateSecret(),
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: marshal challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("subscription: create verify request: %w", err)
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderSignature, signature.Sign(body, sub.Secret, ts))
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))

	resp, err := svc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscription: verification call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("subscription: verification rejected with status %d", resp.StatusCode)
	}

	if err := sub.TransitionTo(StatusActive); err != nil {
		return nil, err
	}
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription verified", "subscription_id", sub.ID, "url", sub.URL)
	return sub, nil
}

// transition loads a subscription, applies a lifecycle transition and
// persists the result.
func (svc *Service) transition(ctx context.Context, subID id.ID, to Status) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	if err := sub.TransitionTo(to); err != nil {
		return err
	}
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "subscription status changed", "subscription_id", subID, "status", to)
	return nil
}

// Pause suspends deliveries for a subscription.
func (svc *Service) Pause(ctx context.Context, subID id.ID) error {
	return svc.transition(ctx, subID, StatusPaused)
}

// Resume returns a Paused subscription to Active.
func (svc *Service) Resume(ctx context.Context, subID id.ID) error {
	return svc.transition(ctx, subID, StatusActive)
}

// Disable switches a subscription off.
func (svc *Service) Disable(ctx context.Context, subID id.ID) error {
	return svc.transition(ctx, subID, StatusDisabled)
}

// Reactivate is the operator path out of Degraded or Disabled. It resets
// the consecutive failure counter and clears the degradation marker.
func (svc *Service) Reactivate(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	wasDegraded := sub.Status == StatusDegraded
	if err := sub.TransitionTo(StatusActive); err != nil {
		return err
	}
	sub.ConsecutiveFailures = 0
	sub.DegradedAt = nil
	sub.DegradedReason = ""

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	if wasDegraded && svc.metrics != nil {
		svc.metrics.SubscriptionReactivated()
	}
	svc.logger.InfoContext(ctx, "subscription reactivated", "subscription_id", subID)
	return nil
}

// RotateSecret generates a new signing secret for a subscription.
// The new secret is returned exactly once; it is never readable afterwards.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	sub.Secret = newSecret
	sub.Touch()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	return newSecret, nil
}

// RecordFailure increments the consecutive failure counter after a failed
// delivery attempt and degrades the subscription when the threshold is
// crossed. Called by the delivery dispatcher.
func (svc *Service) RecordFailure(ctx context.Context, subID id.ID, reason string) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	sub.ConsecutiveFailures++
	sub.Touch()

	if sub.Status == StatusActive && sub.ConsecutiveFailures >= svc.config.DegradedThreshold {
		now := time.Now().UTC()
		if err := sub.TransitionTo(StatusDegraded); err != nil {
			return err
		}
		sub.DegradedAt = &now
		sub.DegradedReason = fmt.Sprintf("%d consecutive delivery failures: %s", sub.ConsecutiveFailures, reason)

		if svc.metrics != nil {
			svc.metrics.SubscriptionDegraded()
		}
		svc.logger.WarnContext(ctx, "subscription degraded",
			"subscription_id", sub.ID,
			"consecutive_failures", sub.ConsecutiveFailures,
			"reason", reason,
		)
	}

	return svc.store.UpdateSubscription(ctx, sub)
}

// RecordSuccess resets the consecutive failure counter after a successful
// delivery. Called by the delivery dispatcher.
func (svc *Service) RecordSuccess(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	if sub.ConsecutiveFailures == 0 {
		return nil
	}

	sub.ConsecutiveFailures = 0
	sub.Touch()
	return svc.store.UpdateSubscription(ctx, sub)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
