package esgbridge

import (
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/observability"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/store"
	"github.com/verdantiq/esgbridge/subscription"
)

// Bridge is the root integration engine: webhook delivery out, sync
// reconciliation in.
type Bridge struct {
	config     Config
	store      store.Store
	subSvc     *subscription.Service
	connSvc    *connector.Service
	registry   *canonical.Registry
	reconciler *reconcile.Engine
	dispatcher *delivery.Dispatcher
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
}

// Option configures a Bridge instance.
type Option func(*Bridge) error

// New creates a new Bridge with the given options.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	b.wireServices()
	return b, nil
}

// WithStore sets the persistence backend for the Bridge instance.
func WithStore(s store.Store) Option {
	return func(b *Bridge) error {
		b.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Bridge instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(b *Bridge) error {
		b.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the dispatcher sweeps for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed per sweep.
func WithBatchSize(n int) Option {
	return func(b *Bridge) error {
		b.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.RequestTimeout = d
		return nil
	}
}

// WithRetryCeiling caps the computed exponential backoff delay.
func WithRetryCeiling(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.RetryCeiling = d
		return nil
	}
}

// WithDegradedThreshold sets the consecutive failure count that degrades
// a subscription.
func WithDegradedThreshold(n int) Option {
	return func(b *Bridge) error {
		b.config.DegradedThreshold = n
		return nil
	}
}

// WithVerifyTimeout bounds the subscription verification handshake call.
func WithVerifyTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.VerifyTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight
// deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.ShutdownTimeout = d
		return nil
	}
}

// WithMetrics enables metric instruments built from the given factory.
// Pass metrics.NewMetricsCollector() for standalone usage.
func WithMetrics(factory gu.MetricFactory) Option {
	return func(b *Bridge) error {
		b.metrics = observability.NewMetrics(factory)
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around deliveries and
// reconciliations using the globally registered tracer provider.
func WithTracing() Option {
	return func(b *Bridge) error {
		b.tracer = observability.NewTracer()
		return nil
	}
}
