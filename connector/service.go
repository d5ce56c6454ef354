package connector

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// Service provides connector management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new connector service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Input is the payload for creating or updating a connector.
type Input struct {
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	Endpoint  string            `json:"endpoint,omitempty"`
	AuthRef   string            `json:"auth_ref,omitempty"`
	RateLimit int               `json:"rate_limit,omitempty"`
	Active    *bool             `json:"active,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "connector validation: " + e.Field + ": " + e.Message
}

// Create registers a new connector. New connectors are active unless the
// input says otherwise.
func (svc *Service) Create(ctx context.Context, in Input) (*Connector, error) {
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if !KnownKind(in.Kind) {
		return nil, &ValidationError{Field: "kind", Message: "must be hr, finance or custom"}
	}
	if in.Endpoint != "" {
		if _, err := url.ParseRequestURI(in.Endpoint); err != nil {
			return nil, &ValidationError{Field: "endpoint", Message: "invalid URL"}
		}
	}
	if in.RateLimit < 0 {
		return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	c := &Connector{
		Entity:    entity.New(),
		ID:        id.NewConnectorID(),
		Name:      in.Name,
		Kind:      in.Kind,
		Endpoint:  in.Endpoint,
		AuthRef:   in.AuthRef,
		RateLimit: in.RateLimit,
		Active:    active,
		Metadata:  in.Metadata,
	}

	if err := svc.store.CreateConnector(ctx, c); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "connector created", "connector_id", c.ID, "kind", c.Kind)
	return c, nil
}

// Get returns a connector by ID.
func (svc *Service) Get(ctx context.Context, connID id.ID) (*Connector, error) {
	return svc.store.GetConnector(ctx, connID)
}

// Update modifies an existing connector.
func (svc *Service) Update(ctx context.Context, connID id.ID, in Input) (*Connector, error) {
	c, err := svc.store.GetConnector(ctx, connID)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		c.Name = in.Name
	}
	if in.Kind != "" {
		if !KnownKind(in.Kind) {
			return nil, &ValidationError{Field: "kind", Message: "must be hr, finance or custom"}
		}
		c.Kind = in.Kind
	}
	if in.Endpoint != "" {
		if _, err := url.ParseRequestURI(in.Endpoint); err != nil {
			return nil, &ValidationError{Field: "endpoint", Message: "invalid URL"}
		}
		c.Endpoint = in.Endpoint
	}
	if in.AuthRef != "" {
		c.AuthRef = in.AuthRef
	}
	if in.RateLimit > 0 {
		c.RateLimit = in.RateLimit
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if in.Metadata != nil {
		c.Metadata = in.Metadata
	}
	c.Touch()

	if err := svc.store.UpdateConnector(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

// Delete removes a connector.
func (svc *Service) Delete(ctx context.Context, connID id.ID) error {
	return svc.store.DeleteConnector(ctx, connID)
}

// List returns connectors matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Connector, error) {
	return svc.store.ListConnectors(ctx, opts)
}
