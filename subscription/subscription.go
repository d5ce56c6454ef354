// Package subscription manages webhook subscription lifecycle.
//
// A subscription is a registered external endpoint that wants to receive
// domain event notifications. Its status follows an explicit state machine:
// subscriptions are created in PendingVerification, become Active after a
// verification handshake, and are moved to Degraded automatically when
// consecutive delivery failures cross a threshold. Paused, Disabled, and
// reactivation are operator actions.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// Status is the lifecycle state of a webhook subscription.
type Status string

const (
	// StatusPendingVerification is the initial state after creation.
	// The subscription receives no deliveries until verified.
	StatusPendingVerification Status = "pending_verification"

	// StatusActive means the subscription receives new deliveries.
	StatusActive Status = "active"

	// StatusPaused means an operator has suspended deliveries temporarily.
	StatusPaused Status = "paused"

	// StatusDegraded means repeated delivery failures crossed the threshold.
	// Degraded subscriptions are excluded from automatic dispatch and require
	// operator reactivation.
	StatusDegraded Status = "degraded"

	// StatusDisabled means the subscription is switched off.
	StatusDisabled Status = "disabled"
)

// ErrInvalidTransition is returned when a status change violates the
// subscription state machine.
var ErrInvalidTransition = errors.New("subscription: invalid status transition")

// ErrNotFound indicates the subscription does not exist.
var ErrNotFound = errors.New("subscription: not found")

// transitions is the allowed-transition table. Disabled→Active and
// Degraded→Active are the operator reactivation paths; everything else
// moves strictly forward.
var transitions = map[Status]map[Status]bool{
	StatusPendingVerification: {
		StatusActive:   true, // verification handshake succeeded
		StatusDisabled: true,
	},
	StatusActive: {
		StatusPaused:   true,
		StatusDegraded: true,
		StatusDisabled: true,
	},
	StatusPaused: {
		StatusActive:   true,
		StatusDisabled: true,
	},
	StatusDegraded: {
		StatusActive:   true, // operator reactivation only
		StatusDisabled: true,
	},
	StatusDisabled: {
		StatusActive: true, // operator reactivation only
	},
}

// CanTransition reports whether the state machine permits moving from one
// status to another. A no-op transition (from == to) is always permitted.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// RetryPolicy is the per-subscription delivery retry configuration.
// It is snapshotted onto each delivery at enqueue time so in-flight
// deliveries are unaffected by later policy edits.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts before a
	// delivery becomes terminally Failed.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelaySeconds is the first retry delay.
	BaseDelaySeconds int `json:"base_delay_seconds"`

	// Exponential doubles the delay on each subsequent attempt when true;
	// otherwise the delay is constant.
	Exponential bool `json:"exponential"`
}

// Base returns the base delay as a duration.
func (p RetryPolicy) Base() time.Duration {
	return time.Duration(p.BaseDelaySeconds) * time.Second
}

// DefaultRetryPolicy is applied to subscriptions created without an
// explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:      5,
	BaseDelaySeconds: 30,
	Exponential:      true,
}

// Subscription represents a registered webhook delivery target.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description explains what the receiving system does with the events.
	Description string `json:"description,omitempty"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// EventTypes are patterns for event type subscriptions
	// ("approval.granted", "approval.*", "*").
	EventTypes []string `json:"event_types"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// RetryPolicy governs delivery retries for this subscription.
	RetryPolicy RetryPolicy `json:"retry_policy"`

	// ConsecutiveFailures counts failed delivery attempts since the last
	// success. Reset to zero by any successful delivery.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// DegradedAt is when the subscription was automatically degraded.
	DegradedAt *time.Time `json:"degraded_at,omitempty"`

	// DegradedReason records why the subscription was degraded.
	DegradedReason string `json:"degraded_reason,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TransitionTo moves the subscription to a new status, enforcing the
// state machine.
func (s *Subscription) TransitionTo(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.Touch()
	return nil
}

// Matches reports whether this subscription is interested in the given
// event type.
func (s *Subscription) Matches(eventType string) bool {
	for _, pattern := range s.EventTypes {
		if Match(pattern, eventType) {
			return true
		}
	}
	return false
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
