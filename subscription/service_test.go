package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gumetrics "github.com/xraph/go-utils/metrics"

	"github.com/verdantiq/esgbridge/observability"
	"github.com/verdantiq/esgbridge/signature"
	"github.com/verdantiq/esgbridge/store/memory"
	"github.com/verdantiq/esgbridge/subscription"
)

func newService(t *testing.T) (*subscription.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := subscription.NewService(st, subscription.Config{
		DegradedThreshold: 3,
		VerifyTimeout:     5 * time.Second,
	}, nil)
	return svc, st
}

func createActive(t *testing.T, svc *subscription.Service, st *memory.Store) *subscription.Subscription {
	t.Helper()
	sub, err := svc.Create(context.Background(), subscription.Input{
		Name:       "esg-data-sink",
		URL:        "https://sink.example.com/hooks",
		EventTypes: []string{"data.changed"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sub.Status = subscription.StatusActive
	if err := st.UpdateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return sub
}

func TestCreateSubscription(t *testing.T) {
	svc, _ := newService(t)

	sub, err := svc.Create(context.Background(), subscription.Input{
		Name:       "reporting-sink",
		URL:        "https://sink.example.com/hooks",
		EventTypes: []string{"data.changed", "approval.*"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if sub.Status != subscription.StatusPendingVerification {
		t.Errorf("status = %s, want pending_verification", sub.Status)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Errorf("secret %q missing whsec_ prefix", sub.Secret)
	}
	if sub.RetryPolicy != subscription.DefaultRetryPolicy {
		t.Errorf("retry policy = %+v, want default", sub.RetryPolicy)
	}
	if sub.ID.IsNil() {
		t.Error("no ID assigned")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input subscription.Input
		field string
	}{
		{
			"invalid url",
			subscription.Input{URL: "not a url", EventTypes: []string{"*"}},
			"url",
		},
		{
			"no event types",
			subscription.Input{URL: "https://sink.example.com/hooks"},
			"event_types",
		},
		{
			"zero max attempts",
			subscription.Input{
				URL:         "https://sink.example.com/hooks",
				EventTypes:  []string{"*"},
				RetryPolicy: &subscription.RetryPolicy{MaxAttempts: 0, BaseDelaySeconds: 30},
			},
			"retry_policy.max_attempts",
		},
		{
			"zero base delay",
			subscription.Input{
				URL:         "https://sink.example.com/hooks",
				EventTypes:  []string{"*"},
				RetryPolicy: &subscription.RetryPolicy{MaxAttempts: 3, BaseDelaySeconds: 0},
			},
			"retry_policy.base_delay_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.input)
			var verr *subscription.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestCreateCustomSecret(t *testing.T) {
	svc, _ := newService(t)

	sub, err := svc.Create(context.Background(), subscription.Input{
		URL:        "https://sink.example.com/hooks",
		EventTypes: []string{"*"},
		Secret:     "whsec_caller_supplied",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Secret != "whsec_caller_supplied" {
		t.Errorf("secret = %q, want caller-supplied value", sub.Secret)
	}
}

func TestVerifyHandshake(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var gotBody []byte
	var gotSig, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(signature.HeaderSignature)
		gotTS = r.Header.Get(signature.HeaderTimestamp)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub, err := svc.Create(ctx, subscription.Input{
		URL:        srv.URL,
		EventTypes: []string{"*"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	verified, err := svc.Verify(ctx, sub.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active", verified.Status)
	}

	// The challenge must carry the subscription ID and a valid signature.
	var challenge struct {
		Type           string `json:"type"`
		SubscriptionID string `json:"subscription_id"`
		Challenge      string `json:"challenge"`
	}
	if err := json.Unmarshal(gotBody, &challenge); err != nil {
		t.Fatalf("unmarshal challenge: %v", err)
	}
	if challenge.Type != "subscription.verify" {
		t.Errorf("challenge type = %q", challenge.Type)
	}
	if challenge.SubscriptionID != sub.ID.String() {
		t.Errorf("challenge subscription id = %q, want %q", challenge.SubscriptionID, sub.ID)
	}
	if challenge.Challenge == "" {
		t.Error("empty challenge value")
	}

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp header: %v", err)
	}
	if !signature.Verify(gotBody, sub.Secret, ts, gotSig) {
		t.Error("challenge signature does not verify")
	}
}

func TestVerifyRejected(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sub, err := svc.Create(ctx, subscription.Input{URL: srv.URL, EventTypes: []string{"*"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Verify(ctx, sub.ID); err == nil {
		t.Fatal("expected verification failure on 403")
	}

	got, err := st.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != subscription.StatusPendingVerification {
		t.Errorf("status = %s, want pending_verification after rejection", got.Status)
	}
}

func TestVerifyWrongState(t *testing.T) {
	svc, st := newService(t)
	sub := createActive(t, svc, st)

	_, err := svc.Verify(context.Background(), sub.ID)
	if !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestLifecycle(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	if err := svc.Pause(ctx, sub.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}

	if err := svc.Resume(ctx, sub.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}

	if err := svc.Disable(ctx, sub.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusDisabled {
		t.Errorf("status = %s, want disabled", got.Status)
	}

	// Disabled cannot be paused.
	if err := svc.Pause(ctx, sub.ID); !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Errorf("pause from disabled: error = %v, want ErrInvalidTransition", err)
	}
}

func TestRecordFailureDegrades(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	// Threshold is 3; the first two failures leave the subscription active.
	for i := range 2 {
		if err := svc.RecordFailure(ctx, sub.ID, "HTTP 503"); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active below threshold", got.Status)
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want 2", got.ConsecutiveFailures)
	}

	if err := svc.RecordFailure(ctx, sub.ID, "HTTP 503"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusDegraded {
		t.Errorf("status = %s, want degraded at threshold", got.Status)
	}
	if got.DegradedAt == nil {
		t.Error("degraded_at not set")
	}
	if !strings.Contains(got.DegradedReason, "HTTP 503") {
		t.Errorf("degraded reason = %q, missing cause", got.DegradedReason)
	}
}

func TestRecordFailureOnlyDegradesActive(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)
	if err := svc.Pause(ctx, sub.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Failures on a paused subscription count but never degrade it.
	for range 5 {
		if err := svc.RecordFailure(ctx, sub.ID, "HTTP 500"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}
	if got.ConsecutiveFailures != 5 {
		t.Errorf("consecutive failures = %d, want 5", got.ConsecutiveFailures)
	}
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	if err := svc.RecordFailure(ctx, sub.ID, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := svc.RecordSuccess(ctx, sub.ID); err != nil {
		t.Fatalf("record success: %v", err)
	}

	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0 after success", got.ConsecutiveFailures)
	}
}

func TestReactivateResetsDegradation(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	for range 3 {
		if err := svc.RecordFailure(ctx, sub.ID, "HTTP 502"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusDegraded {
		t.Fatalf("status = %s, want degraded", got.Status)
	}

	if err := svc.Reactivate(ctx, sub.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", got.ConsecutiveFailures)
	}
	if got.DegradedAt != nil || got.DegradedReason != "" {
		t.Error("degradation markers not cleared")
	}
}

func TestRotateSecret(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)
	oldSecret := sub.Secret

	newSecret, err := svc.RotateSecret(ctx, sub.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newSecret == oldSecret {
		t.Error("rotation returned the old secret")
	}
	if !strings.HasPrefix(newSecret, "whsec_") {
		t.Errorf("new secret %q missing whsec_ prefix", newSecret)
	}

	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.Secret != newSecret {
		t.Error("store not updated with rotated secret")
	}
}

func TestUpdateSubscription(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	updated, err := svc.Update(ctx, sub.ID, subscription.Input{
		Name:       "renamed-sink",
		EventTypes: []string{"export.*"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed-sink" {
		t.Errorf("name = %q", updated.Name)
	}
	if len(updated.EventTypes) != 1 || updated.EventTypes[0] != "export.*" {
		t.Errorf("event types = %v", updated.EventTypes)
	}
	// Untouched fields survive.
	if updated.URL != sub.URL {
		t.Errorf("url changed unexpectedly: %q", updated.URL)
	}
	if updated.Status != subscription.StatusActive {
		t.Errorf("status changed via update: %s", updated.Status)
	}
}

func TestDeleteSubscription(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sub := createActive(t, svc, st)

	if err := svc.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetSubscription(ctx, sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDegradationDrivesGauge(t *testing.T) {
	st := memory.New()
	m := observability.NewMetrics(gumetrics.NewMetricsCollector("esgbridge_test"))
	svc := subscription.NewService(st, subscription.Config{
		DegradedThreshold: 2,
		Metrics:           m,
	}, nil)
	sub := createActive(t, svc, st)
	ctx := context.Background()

	if err := svc.RecordFailure(ctx, sub.ID, "HTTP 503"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if v := m.DegradedSubscriptions.Value(); v != 0 {
		t.Errorf("gauge = %v before threshold, want 0", v)
	}

	if err := svc.RecordFailure(ctx, sub.ID, "HTTP 503"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if v := m.DegradedSubscriptions.Value(); v != 1 {
		t.Errorf("gauge = %v after degrade, want 1", v)
	}

	if err := svc.Reactivate(ctx, sub.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if v := m.DegradedSubscriptions.Value(); v != 0 {
		t.Errorf("gauge = %v after reactivate, want 0", v)
	}
}
