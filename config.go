package esgbridge

import "time"

// Config holds the configuration for a Bridge instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the dispatcher sweeps for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries claimed per sweep.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// RetryCeiling caps the computed exponential backoff delay.
	RetryCeiling time.Duration

	// DegradedThreshold is the number of consecutive delivery failures
	// after which an Active subscription is moved to Degraded.
	DegradedThreshold int

	// VerifyTimeout bounds the subscription verification handshake call.
	VerifyTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// deliveries on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		BatchSize:         50,
		RequestTimeout:    30 * time.Second,
		RetryCeiling:      1 * time.Hour,
		DegradedThreshold: 5,
		VerifyTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}
