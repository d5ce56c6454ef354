package subscription_test

import (
	"errors"
	"testing"

	"github.com/verdantiq/esgbridge/subscription"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to subscription.Status
		want     bool
	}{
		{subscription.StatusPendingVerification, subscription.StatusActive, true},
		{subscription.StatusPendingVerification, subscription.StatusDisabled, true},
		{subscription.StatusPendingVerification, subscription.StatusPaused, false},
		{subscription.StatusPendingVerification, subscription.StatusDegraded, false},
		{subscription.StatusActive, subscription.StatusPaused, true},
		{subscription.StatusActive, subscription.StatusDegraded, true},
		{subscription.StatusActive, subscription.StatusDisabled, true},
		{subscription.StatusActive, subscription.StatusPendingVerification, false},
		{subscription.StatusPaused, subscription.StatusActive, true},
		{subscription.StatusPaused, subscription.StatusDegraded, false},
		{subscription.StatusDegraded, subscription.StatusActive, true},
		{subscription.StatusDegraded, subscription.StatusDisabled, true},
		{subscription.StatusDegraded, subscription.StatusPaused, false},
		{subscription.StatusDisabled, subscription.StatusActive, true},
		{subscription.StatusDisabled, subscription.StatusPaused, false},
		// No-op transitions are always permitted.
		{subscription.StatusActive, subscription.StatusActive, true},
		{subscription.StatusDisabled, subscription.StatusDisabled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := subscription.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionTo(t *testing.T) {
	sub := &subscription.Subscription{Status: subscription.StatusPendingVerification}

	if err := sub.TransitionTo(subscription.StatusActive); err != nil {
		t.Fatalf("valid transition failed: %v", err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active", sub.Status)
	}

	err := sub.TransitionTo(subscription.StatusPendingVerification)
	if !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("failed transition mutated status to %s", sub.Status)
	}
}

func TestRetryPolicyBase(t *testing.T) {
	p := subscription.RetryPolicy{MaxAttempts: 5, BaseDelaySeconds: 30, Exponential: true}
	if got := p.Base().Seconds(); got != 30 {
		t.Errorf("Base() = %vs, want 30s", got)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := subscription.DefaultRetryPolicy
	if p.MaxAttempts != 5 || p.BaseDelaySeconds != 30 || !p.Exponential {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
