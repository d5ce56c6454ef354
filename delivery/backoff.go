package delivery

import "time"

// DefaultRetryCeiling bounds exponential backoff growth. Without a cap a
// high-attempt delivery could schedule itself hours or days out and a
// burst of failures would produce a retry storm of huge delays.
const DefaultRetryCeiling = time.Hour

// NextDelay returns the delay before the next attempt, given the number of
// attempts already made (attempt >= 1). Exponential backoff doubles the
// base per attempt: base * 2^(attempt-1), capped at ceiling. Fixed backoff
// returns base unchanged. Pure function of its inputs.
func NextDelay(attempt int, base time.Duration, exponential bool, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	if base <= 0 {
		return 0
	}
	if !exponential {
		if base > ceiling {
			return ceiling
		}
		return base
	}

	if attempt < 1 {
		attempt = 1
	}

	// Doubling loop with an early cap check; avoids shift overflow for
	// large attempt counts.
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= ceiling {
			return ceiling
		}
		delay *= 2
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of attempts.
func ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// RetryDelay computes the delay for this delivery's next attempt from its
// snapshotted policy.
func (d *Delivery) RetryDelay(ceiling time.Duration) time.Duration {
	base := time.Duration(d.BaseDelaySeconds) * time.Second
	return NextDelay(d.AttemptCount, base, d.Exponential, ceiling)
}
