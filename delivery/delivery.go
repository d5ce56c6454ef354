// Package delivery implements outbound webhook delivery: the signed HTTP
// send primitive, the retry/backoff policy, and the dispatcher that fans
// out domain events to subscriptions and drives each delivery to a
// terminal state.
package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// ErrNotFound indicates the delivery does not exist.
var ErrNotFound = errors.New("delivery: not found")

// ErrClaimed indicates another worker already holds the delivery.
var ErrClaimed = errors.New("delivery: already claimed")

// Status is the current state of a delivery.
type Status string

const (
	// StatusPending indicates the delivery is awaiting its first attempt.
	StatusPending Status = "pending"

	// StatusInProgress indicates a worker has claimed the delivery. The
	// Pending/Retrying→InProgress flip is the claim: a row is never
	// processed by two workers at once.
	StatusInProgress Status = "in_progress"

	// StatusRetrying indicates a failed attempt with attempts remaining.
	// NextRetryAt is set if and only if a delivery is in this state.
	StatusRetrying Status = "retrying"

	// StatusSucceeded indicates the delivery was accepted (2xx). Terminal.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates a permanent failure or exhausted retries. Terminal.
	StatusFailed Status = "failed"
)

// Delivery represents one attempt-cycle of sending an event to a
// subscription, including retries. A delivery belongs to exactly one
// subscription. Retry configuration is snapshotted from the subscription
// at enqueue time.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the owning subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the event type name, denormalized for filtering.
	EventType string `json:"event_type"`

	// CorrelationID is carried from the event for consumer-side dedup.
	CorrelationID string `json:"correlation_id"`

	// Payload is the serialized event payload snapshot. The signature is
	// computed over exactly these bytes on every attempt.
	Payload json.RawMessage `json:"payload"`

	// Signature is the HMAC signature sent with the most recent attempt.
	Signature string `json:"signature,omitempty"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// AttemptCount is the number of attempts made so far. Only increases.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts, BaseDelaySeconds, and Exponential are the retry policy
	// snapshot taken from the subscription at enqueue time.
	MaxAttempts      int  `json:"max_attempts"`
	BaseDelaySeconds int  `json:"base_delay_seconds"`
	Exponential      bool `json:"exponential"`

	// NextRetryAt is when the next attempt is due. Set iff Status is Retrying.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// LastStatusCode is the HTTP status code from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is the response body from the most recent attempt (capped at 1KB).
	LastResponse string `json:"last_response,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastLatencyMs is the latency in milliseconds of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// LastAttemptAt is when the most recent attempt was made.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// CompletedAt is when the delivery reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ReplayOf references the failed delivery this one was cloned from by
	// an operator replay, if any.
	ReplayOf id.ID `json:"replay_of,omitempty"`
}

// Terminal reports whether the delivery has reached a final state.
// Terminal deliveries are immutable.
func (d *Delivery) Terminal() bool {
	return d.Status == StatusSucceeded || d.Status == StatusFailed
}

// Due reports whether the delivery is ready for an attempt at the given time.
func (d *Delivery) Due(now time.Time) bool {
	switch d.Status {
	case StatusPending:
		return true
	case StatusRetrying:
		return d.NextRetryAt != nil && !d.NextRetryAt.After(now)
	default:
		return false
	}
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
	From   *time.Time
	To     *time.Time
}
