package subscription

// Input is the creation/update payload for subscriptions.
type Input struct {
	// Name is a human-readable label.
	Name string `json:"name"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description explains what the receiving system does with the events.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes are patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// RetryPolicy governs delivery retries. Zero value means the default.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
