// Package connector manages the external systems that push or pull data
// through the sync pipeline. A connector owns its field mappings and the
// sync records produced by reconciling its inbound payloads.
package connector

import (
	"errors"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// ErrNotFound indicates the connector does not exist.
var ErrNotFound = errors.New("connector: not found")

// Kind categorizes the external system a connector talks to.
type Kind string

const (
	KindHR      Kind = "hr"
	KindFinance Kind = "finance"
	KindCustom  Kind = "custom"
)

// KnownKind reports whether k is a recognized connector kind.
func KnownKind(k Kind) bool {
	switch k {
	case KindHR, KindFinance, KindCustom:
		return true
	}
	return false
}

// Connector is a configured integration with an external system.
type Connector struct {
	entity.Entity

	ID   id.ID  `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Endpoint is the base URL of the external system, when the connector
	// pulls data itself.
	Endpoint string `json:"endpoint,omitempty"`

	// AuthRef names the credential in the secret store used to talk to
	// the external system. Credentials themselves are never persisted here.
	AuthRef string `json:"auth_ref,omitempty"`

	// RateLimit caps inbound sync throughput in records per second.
	// Zero means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	Active bool `json:"active"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts filters connector listings.
type ListOpts struct {
	Offset     int
	Limit      int
	Kind       Kind
	ActiveOnly bool
}
