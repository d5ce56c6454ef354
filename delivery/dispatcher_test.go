package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/store/memory"
	"github.com/verdantiq/esgbridge/subscription"
)

// stubRecorder counts delivery outcomes reported to the subscription layer.
type stubRecorder struct {
	failures  atomic.Int32
	successes atomic.Int32
}

func (r *stubRecorder) RecordFailure(_ context.Context, _ id.ID, _ string) error {
	r.failures.Add(1)
	return nil
}

func (r *stubRecorder) RecordSuccess(_ context.Context, _ id.ID) error {
	r.successes.Add(1)
	return nil
}

func setupDispatcher(t *testing.T, st *memory.Store, rec *stubRecorder) *delivery.Dispatcher {
	t.Helper()

	dp := delivery.NewDispatcher(st, rec, delivery.DispatcherConfig{
		Concurrency:    4,
		PollInterval:   10 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
	}, nil)
	dp.Start(context.Background())
	t.Cleanup(func() { dp.Stop(context.Background()) })

	return dp
}

func createTestData(t *testing.T, st *memory.Store, url string, status subscription.Status, maxAttempts int) (*subscription.Subscription, *delivery.Delivery) {
	t.Helper()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		Name:        "audit-sink",
		URL:         url,
		Secret:      "whsec_dispatcher_test",
		EventTypes:  []string{"*"},
		Status:      status,
		RetryPolicy: subscription.RetryPolicy{MaxAttempts: maxAttempts, BaseDelaySeconds: 0, Exponential: false},
	}
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	d := &delivery.Delivery{
		Entity:           entity.New(),
		ID:               id.NewDeliveryID(),
		EventID:          id.NewEventID(),
		SubscriptionID:   sub.ID,
		EventType:        "data.changed",
		CorrelationID:    "corr-1",
		Payload:          []byte(`{"facility_id":"fac-001","metric":"water_usage"}`),
		Status:           delivery.StatusPending,
		MaxAttempts:      maxAttempts,
		BaseDelaySeconds: 0,
		Exponential:      false,
	}
	if err := st.EnqueueDelivery(ctx, d); err != nil {
		t.Fatalf("enqueue delivery: %v", err)
	}

	return sub, d
}

// waitForStatus polls the store until the delivery reaches want or the
// deadline passes.
func waitForStatus(t *testing.T, st *memory.Store, dlvID id.ID, want delivery.Status) *delivery.Delivery {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			d, _ := st.GetDelivery(context.Background(), dlvID)
			t.Fatalf("delivery never reached %s, last seen: %+v", want, d)
			return nil
		default:
		}

		d, err := st.GetDelivery(context.Background(), dlvID)
		if err == nil && d.Status == want {
			return d
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDispatcherDelivers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusActive, 5)
	setupDispatcher(t, st, rec)

	got := waitForStatus(t, st, d.ID, delivery.StatusSucceeded)

	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.NextRetryAt != nil {
		t.Error("next_retry_at should be nil on success")
	}
	if got.Signature == "" {
		t.Error("signature not recorded")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
	if rec.successes.Load() != 1 {
		t.Errorf("recorded successes = %d, want 1", rec.successes.Load())
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusActive, 5)
	setupDispatcher(t, st, rec)

	got := waitForStatus(t, st, d.ID, delivery.StatusSucceeded)

	if got.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", got.AttemptCount)
	}
	if rec.failures.Load() != 2 {
		t.Errorf("recorded failures = %d, want 2", rec.failures.Load())
	}
	if rec.successes.Load() != 1 {
		t.Errorf("recorded successes = %d, want 1", rec.successes.Load())
	}
}

func TestDispatcherExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusActive, 2)
	setupDispatcher(t, st, rec)

	got := waitForStatus(t, st, d.ID, delivery.StatusFailed)

	if got.AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", got.AttemptCount)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on terminal failure")
	}
	if got.NextRetryAt != nil {
		t.Error("next_retry_at should be nil on terminal failure")
	}
	if got.LastStatusCode != http.StatusInternalServerError {
		t.Errorf("last status code = %d, want 500", got.LastStatusCode)
	}
}

func TestDispatcherPermanentFailureShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusActive, 5)
	setupDispatcher(t, st, rec)

	got := waitForStatus(t, st, d.ID, delivery.StatusFailed)

	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1 (no retry on 4xx)", got.AttemptCount)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
	if rec.failures.Load() != 1 {
		t.Errorf("recorded failures = %d, want 1", rec.failures.Load())
	}
}

func TestDispatcherDefersInactiveSubscription(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusPaused, 5)
	setupDispatcher(t, st, rec)

	// Let several sweeps pass; the delivery must never be attempted.
	time.Sleep(150 * time.Millisecond)

	got, err := st.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt count = %d, want 0 for paused subscription", got.AttemptCount)
	}
	if got.Terminal() {
		t.Errorf("delivery reached terminal state %s for paused subscription", got.Status)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0", hits.Load())
	}
}

func TestAttemptForcesDeliveryForInactiveSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, srv.URL, subscription.StatusDegraded, 5)

	dp := delivery.NewDispatcher(st, rec, delivery.DispatcherConfig{
		Concurrency:    1,
		PollInterval:   time.Hour, // sweep never fires; only the forced attempt runs
		BatchSize:      1,
		RequestTimeout: 5 * time.Second,
	}, nil)

	got, err := dp.Attempt(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if got.Status != delivery.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
}

func TestAttemptCompletedDelivery(t *testing.T) {
	st := memory.New()
	rec := &stubRecorder{}

	sub := &subscription.Subscription{
		Entity: entity.New(), ID: id.NewSubscriptionID(),
		URL: "http://example.invalid", Secret: "whsec_x", Status: subscription.StatusActive,
	}
	if err := st.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	done := time.Now().UTC()
	d := &delivery.Delivery{
		Entity: entity.New(), ID: id.NewDeliveryID(),
		EventID: id.NewEventID(), SubscriptionID: sub.ID,
		Payload: []byte(`{}`), Status: delivery.StatusSucceeded,
		MaxAttempts: 5, AttemptCount: 1, CompletedAt: &done,
	}
	if err := st.EnqueueDelivery(context.Background(), d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dp := delivery.NewDispatcher(st, rec, delivery.DispatcherConfig{
		Concurrency: 1, PollInterval: time.Hour, BatchSize: 1, RequestTimeout: time.Second,
	}, nil)

	_, err := dp.Attempt(context.Background(), d.ID)
	if !errors.Is(err, delivery.ErrDeliveryCompleted) {
		t.Errorf("error = %v, want ErrDeliveryCompleted", err)
	}
}

func TestReplayClonesFailedDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &stubRecorder{}
	sub, _ := createTestData(t, st, srv.URL, subscription.StatusActive, 3)

	done := time.Now().UTC()
	failed := &delivery.Delivery{
		Entity: entity.New(), ID: id.NewDeliveryID(),
		EventID: id.NewEventID(), SubscriptionID: sub.ID,
		EventType: "export.failed", CorrelationID: "corr-9",
		Payload: []byte(`{"export_id":"exp-7"}`), Status: delivery.StatusFailed,
		MaxAttempts: 3, AttemptCount: 3, CompletedAt: &done,
	}
	if err := st.EnqueueDelivery(context.Background(), failed); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dp := setupDispatcher(t, st, rec)

	clone, err := dp.Replay(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if clone.ID == failed.ID {
		t.Error("replay reused the original ID")
	}
	if clone.ReplayOf != failed.ID {
		t.Errorf("replay_of = %s, want %s", clone.ReplayOf, failed.ID)
	}
	if clone.AttemptCount != 0 {
		t.Errorf("clone attempt count = %d, want 0", clone.AttemptCount)
	}
	if string(clone.Payload) != string(failed.Payload) {
		t.Error("clone payload differs from original")
	}

	// The sweep picks the clone up and delivers it; the original stays failed.
	waitForStatus(t, st, clone.ID, delivery.StatusSucceeded)

	orig, err := st.GetDelivery(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if orig.Status != delivery.StatusFailed {
		t.Errorf("original status = %s, want failed (immutable)", orig.Status)
	}
}

func TestReplayRequiresFailedDelivery(t *testing.T) {
	st := memory.New()
	rec := &stubRecorder{}
	_, d := createTestData(t, st, "http://example.invalid", subscription.StatusActive, 3)

	dp := delivery.NewDispatcher(st, rec, delivery.DispatcherConfig{
		Concurrency: 1, PollInterval: time.Hour, BatchSize: 1, RequestTimeout: time.Second,
	}, nil)

	if _, err := dp.Replay(context.Background(), d.ID); err == nil {
		t.Error("expected error replaying a pending delivery")
	}
}

// blockingRecorder parks the worker goroutine inside the success callback
// until released, ignoring context cancellation.
type blockingRecorder struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRecorder) RecordFailure(_ context.Context, _ id.ID, _ string) error { return nil }

func (r *blockingRecorder) RecordSuccess(_ context.Context, _ id.ID) error {
	close(r.entered)
	<-r.release
	return nil
}

func TestStopHonorsShutdownTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := memory.New()
	rec := &blockingRecorder{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(rec.release)

	dp := delivery.NewDispatcher(st, rec, delivery.DispatcherConfig{
		Concurrency:     2,
		PollInterval:    10 * time.Millisecond,
		BatchSize:       10,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 100 * time.Millisecond,
	}, nil)
	dp.Start(context.Background())

	createTestData(t, st, srv.URL, subscription.StatusActive, 3)

	select {
	case <-rec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the recorder")
	}

	start := time.Now()
	dp.Stop(context.Background())
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop blocked for %s with a stuck worker, want return near the shutdown timeout", elapsed)
	}
}
