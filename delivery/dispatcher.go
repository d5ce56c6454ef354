package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/observability"
	"github.com/verdantiq/esgbridge/ratelimit"
	"github.com/verdantiq/esgbridge/subscription"
)

// ErrDeliveryCompleted is returned when an operation targets a delivery
// that has already reached a terminal state.
var ErrDeliveryCompleted = errors.New("delivery: already completed")

// DispatcherStore is the interface the dispatcher needs for delivery operations.
type DispatcherStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	ClaimDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)
	EnqueueDelivery(ctx context.Context, d *Delivery) error
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}

// StatusRecorder receives delivery outcomes for the owning subscription.
// Implemented by subscription.Service: failures increment the consecutive
// failure counter (degrading past the threshold), successes reset it.
type StatusRecorder interface {
	RecordFailure(ctx context.Context, subID id.ID, reason string) error
	RecordSuccess(ctx context.Context, subID id.ID) error
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	RetryCeiling   time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight deliveries.
	// Zero means wait indefinitely.
	ShutdownTimeout time.Duration

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Dispatcher is the delivery worker pool. A periodic sweep claims due
// deliveries and drives each through the retry policy until terminal.
// The sweep is the only place deliveries are re-driven; no delivery
// schedules its own re-invocation.
type Dispatcher struct {
	store    DispatcherStore
	sender   *Sender
	recorder StatusRecorder
	limiter  *ratelimit.Limiter
	config   DispatcherConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a delivery dispatcher.
func NewDispatcher(store DispatcherStore, recorder StatusRecorder, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	return &Dispatcher{
		store:    store,
		sender:   NewSender(cfg.RequestTimeout),
		recorder: recorder,
		limiter:  ratelimit.New(),
		config:   cfg,
		logger:   logger,
	}
}

// Start begins the sweep loop.
func (dp *Dispatcher) Start(ctx context.Context) {
	ctx, dp.cancel = context.WithCancel(ctx)

	dp.wg.Add(1)
	go func() {
		defer dp.wg.Done()
		dp.sweepLoop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for in-flight deliveries to
// complete, up to the configured ShutdownTimeout or the caller's context.
func (dp *Dispatcher) Stop(ctx context.Context) {
	if dp.cancel != nil {
		dp.cancel()
	}

	done := make(chan struct{})
	go func() {
		dp.wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if dp.config.ShutdownTimeout > 0 {
		expired = time.After(dp.config.ShutdownTimeout)
	}

	select {
	case <-done:
	case <-expired:
		dp.logger.Warn("shutdown timed out with deliveries in flight",
			"timeout", dp.config.ShutdownTimeout)
	case <-ctx.Done():
		dp.logger.Warn("shutdown canceled with deliveries in flight")
	}
}

// sweepLoop periodically claims due deliveries and dispatches them to workers.
func (dp *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(dp.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, dp.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := dp.store.ClaimDue(ctx, time.Now().UTC(), dp.config.BatchSize)
			if err != nil {
				dp.logger.ErrorContext(ctx, "claim due deliveries failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				dp.wg.Add(1)
				go func(dlv *Delivery) {
					defer dp.wg.Done()
					defer func() { <-sem }()
					dp.process(ctx, dlv, false)
				}(d)
			}
		}
	}
}

// Attempt forces a single delivery attempt outside the sweep, regardless
// of the owning subscription's status. This is the operator tool for
// re-driving deliveries of a Degraded subscription.
func (dp *Dispatcher) Attempt(ctx context.Context, dlvID id.ID) (*Delivery, error) {
	d, err := dp.store.ClaimDelivery(ctx, dlvID)
	if err != nil {
		return nil, err
	}

	dp.process(ctx, d, true)
	return dp.store.GetDelivery(ctx, dlvID)
}

// Replay clones a terminally Failed delivery into a fresh Pending one.
// The failed row stays immutable; the clone references it via ReplayOf.
func (dp *Dispatcher) Replay(ctx context.Context, dlvID id.ID) (*Delivery, error) {
	orig, err := dp.store.GetDelivery(ctx, dlvID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusFailed {
		return nil, fmt.Errorf("delivery: replay requires a failed delivery, got %s", orig.Status)
	}

	clone := &Delivery{
		Entity:           entity.New(),
		ID:               id.NewDeliveryID(),
		EventID:          orig.EventID,
		SubscriptionID:   orig.SubscriptionID,
		EventType:        orig.EventType,
		CorrelationID:    orig.CorrelationID,
		Payload:          orig.Payload,
		Status:           StatusPending,
		MaxAttempts:      orig.MaxAttempts,
		BaseDelaySeconds: orig.BaseDelaySeconds,
		Exponential:      orig.Exponential,
		ReplayOf:         orig.ID,
	}

	if err := dp.store.EnqueueDelivery(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// process handles one claimed delivery: fetch the subscription, send,
// classify, update. The claim is released by the final UpdateDelivery.
func (dp *Dispatcher) process(ctx context.Context, d *Delivery, force bool) {
	var span trace.Span
	if dp.config.Tracer != nil {
		ctx, span = dp.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.SubscriptionID.String())
	}

	sub, err := dp.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		dp.logger.ErrorContext(ctx, "get subscription failed",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "error", err)
		dp.release(ctx, d)
		if span != nil {
			dp.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return
	}

	// Non-active subscriptions are excluded from automatic dispatch, so a
	// degraded or paused sink cannot starve retry capacity for others.
	// Operator-forced attempts go through regardless.
	if !force && sub.Status != subscription.StatusActive {
		dp.logger.DebugContext(ctx, "deferring delivery for inactive subscription",
			"delivery_id", d.ID, "subscription_id", sub.ID, "subscription_status", sub.Status)
		dp.release(ctx, d)
		if span != nil {
			dp.config.Tracer.EndDeliverySpan(span, 0, 0, "subscription "+string(sub.Status))
		}
		return
	}

	if sub.RateLimit > 0 {
		if waitErr := dp.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); waitErr != nil {
			dp.release(ctx, d)
			if span != nil {
				dp.config.Tracer.EndDeliverySpan(span, 0, 0, waitErr.Error())
			}
			return
		}
	}

	now := time.Now().UTC()
	d.AttemptCount++
	d.LastAttemptAt = &now

	result := dp.sender.Send(ctx, sub, d)

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = result.Response
	d.LastLatencyMs = result.LatencyMs
	d.Signature = result.Signature

	latencySeconds := float64(result.LatencyMs) / 1000.0

	switch Classify(result) {
	case Success:
		completed := time.Now().UTC()
		d.Status = StatusSucceeded
		d.CompletedAt = &completed
		d.NextRetryAt = nil
		if recErr := dp.recorder.RecordSuccess(ctx, sub.ID); recErr != nil {
			dp.logger.ErrorContext(ctx, "record success failed",
				"subscription_id", sub.ID, "error", recErr)
		}
		if dp.config.Metrics != nil {
			dp.config.Metrics.RecordDelivery("succeeded", latencySeconds)
			dp.config.Metrics.PendingDeliveries.Dec()
		}
		dp.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case RetryableFailure:
		dp.recordFailure(ctx, sub.ID, d, result)
		if ShouldRetry(d.AttemptCount, d.MaxAttempts) {
			next := time.Now().UTC().Add(d.RetryDelay(dp.config.RetryCeiling))
			d.Status = StatusRetrying
			d.NextRetryAt = &next
			if dp.config.Metrics != nil {
				dp.config.Metrics.RecordDelivery("retried", latencySeconds)
			}
			dp.logger.DebugContext(ctx, "retry scheduled",
				"delivery_id", d.ID, "attempt", d.AttemptCount, "next_retry_at", next)
		} else {
			dp.fail(ctx, d, latencySeconds)
			dp.logger.WarnContext(ctx, "delivery failed after exhausting retries",
				"delivery_id", d.ID, "attempts", d.AttemptCount, "status", result.StatusCode, "error", result.Error)
		}

	case PermanentFailure:
		dp.recordFailure(ctx, sub.ID, d, result)
		dp.fail(ctx, d, latencySeconds)
		dp.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "status", result.StatusCode, "error", result.Error)
	}

	if span != nil {
		dp.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
	}

	if updateErr := dp.store.UpdateDelivery(ctx, d); updateErr != nil {
		dp.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}

// fail moves a delivery to its terminal Failed state.
func (dp *Dispatcher) fail(_ context.Context, d *Delivery, latencySeconds float64) {
	completed := time.Now().UTC()
	d.Status = StatusFailed
	d.CompletedAt = &completed
	d.NextRetryAt = nil
	if dp.config.Metrics != nil {
		dp.config.Metrics.RecordDelivery("failed", latencySeconds)
		dp.config.Metrics.PendingDeliveries.Dec()
	}
}

// recordFailure reports a failed attempt to the subscription service.
func (dp *Dispatcher) recordFailure(ctx context.Context, subID id.ID, d *Delivery, result Result) {
	reason := result.Error
	if reason == "" {
		reason = fmt.Sprintf("HTTP %d", result.StatusCode)
	}
	if recErr := dp.recorder.RecordFailure(ctx, subID, reason); recErr != nil {
		dp.logger.ErrorContext(ctx, "record failure failed",
			"subscription_id", subID, "delivery_id", d.ID, "error", recErr)
	}
}

// release returns a claimed delivery to the queue without an attempt.
// Retrying deliveries get their next check pushed out by the base delay so
// an inactive subscription's backlog does not churn every sweep tick.
func (dp *Dispatcher) release(ctx context.Context, d *Delivery) {
	if d.AttemptCount == 0 {
		d.Status = StatusPending
		d.NextRetryAt = nil
	} else {
		next := time.Now().UTC().Add(time.Duration(d.BaseDelaySeconds) * time.Second)
		d.Status = StatusRetrying
		d.NextRetryAt = &next
	}
	if err := dp.store.UpdateDelivery(ctx, d); err != nil {
		dp.logger.ErrorContext(ctx, "release delivery failed", "delivery_id", d.ID, "error", err)
	}
}
