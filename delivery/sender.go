package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/verdantiq/esgbridge/signature"
	"github.com/verdantiq/esgbridge/subscription"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Outcome classifies a delivery attempt result.
type Outcome int

const (
	// Success means the receiver accepted the delivery (2xx).
	Success Outcome = iota

	// RetryableFailure means the attempt failed in a way that may
	// self-correct: 5xx, 429, timeout, or connection error.
	RetryableFailure

	// PermanentFailure means retrying cannot help: a non-429 4xx response
	// or a malformed request.
	PermanentFailure
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	Signature  string
	LatencyMs  int

	// Malformed marks a request that could not even be constructed
	// (e.g. invalid URL). Never retryable.
	Malformed bool
}

// Classify maps a Result into the delivery outcome taxonomy.
//
// Decision matrix:
//   - 2xx → Success
//   - malformed request → PermanentFailure
//   - 0 (connection error or timeout) → RetryableFailure
//   - 429 → RetryableFailure
//   - 5xx → RetryableFailure
//   - anything else (4xx, unexpected 3xx) → PermanentFailure
func Classify(res Result) Outcome {
	if res.Malformed {
		return PermanentFailure
	}

	code := res.StatusCode
	switch {
	case code >= 200 && code < 300:
		return Success
	case code == 0:
		return RetryableFailure
	case code == http.StatusTooManyRequests:
		return RetryableFailure
	case code >= 500:
		return RetryableFailure
	default:
		return PermanentFailure
	}
}

// Sender performs signed HTTP webhook delivery. It never mutates
// subscription or delivery state; interpreting the Result is the
// dispatcher's job.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers the payload snapshot to the subscription's endpoint and
// returns the result.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, d *Delivery) Result {
	body := []byte(d.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err), Malformed: true}
	}

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ESGBridge/1.0")
	req.Header.Set("X-ESGBridge-Event-ID", d.EventID.String())
	req.Header.Set("X-ESGBridge-Event-Type", d.EventType)
	req.Header.Set("X-ESGBridge-Delivery-ID", d.ID.String())
	req.Header.Set("X-ESGBridge-Correlation-ID", d.CorrelationID)

	// HMAC signature over the exact payload bytes.
	ts := time.Now().Unix()
	sig := signature.Sign(body, sub.Secret, ts)
	req.Header.Set(signature.HeaderSignature, sig)
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))

	// Custom subscription headers.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			Signature: sig,
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			Signature:  sig,
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		Signature:  sig,
		LatencyMs:  int(latency),
	}
}
