package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// Registry is the service managing canonical schema versions, mappings,
// and entity approval. All configuration-time validation (monotonic
// versioning, attribute declarations) happens here, synchronously.
type Registry struct {
	store     Store
	validator *Validator
	logger    *slog.Logger
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Validator returns the registry's payload validator.
func (r *Registry) Validator() *Validator {
	return r.validator
}

// VersionInput is the creation payload for a schema version.
type VersionInput struct {
	EntityType             string          `json:"entity_type"`
	Version                int             `json:"version"`
	BackwardCompatibleWith *int            `json:"backward_compatible_with,omitempty"`
	Attributes             []Attribute     `json:"attributes"`
	Schema                 json.RawMessage `json:"schema,omitempty"`
}

// CreateVersion registers a new schema version for an entity type.
// Version numbers are strictly monotonic: the request fails unless the
// requested version is exactly currentMax+1.
func (r *Registry) CreateVersion(ctx context.Context, in VersionInput) (*SchemaVersion, error) {
	if in.EntityType == "" {
		return nil, fmt.Errorf("canonical: entity type is required")
	}
	if len(in.Attributes) == 0 {
		return nil, fmt.Errorf("canonical: at least one attribute is required")
	}
	seen := make(map[string]struct{}, len(in.Attributes))
	for _, a := range in.Attributes {
		if a.Name == "" {
			return nil, fmt.Errorf("canonical: attribute name is required")
		}
		if _, dup := seen[a.Name]; dup {
			return nil, fmt.Errorf("canonical: duplicate attribute %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	max, err := r.store.MaxSchemaVersion(ctx, in.EntityType)
	if err != nil {
		return nil, err
	}
	if in.Version != max+1 {
		return nil, fmt.Errorf("%w: %s has max version %d, requested %d",
			ErrNonMonotonicVersion, in.EntityType, max, in.Version)
	}

	if in.BackwardCompatibleWith != nil {
		if _, err := r.store.GetSchemaVersion(ctx, in.EntityType, *in.BackwardCompatibleWith); err != nil {
			return nil, fmt.Errorf("%w: backward compatibility target v%d",
				ErrVersionNotFound, *in.BackwardCompatibleWith)
		}
	}

	v := &SchemaVersion{
		Entity:                 entity.New(),
		ID:                     id.NewSchemaVersionID(),
		EntityType:             in.EntityType,
		Version:                in.Version,
		BackwardCompatibleWith: in.BackwardCompatibleWith,
		Attributes:             in.Attributes,
		Schema:                 in.Schema,
	}

	if err := r.store.CreateSchemaVersion(ctx, v); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "schema version created",
		"entity_type", in.EntityType, "version", in.Version)
	return v, nil
}

// GetVersion returns one schema version.
func (r *Registry) GetVersion(ctx context.Context, entityType string, version int) (*SchemaVersion, error) {
	return r.store.GetSchemaVersion(ctx, entityType, version)
}

// ListVersions returns all versions of an entity type's schema.
func (r *Registry) ListVersions(ctx context.Context, entityType string) ([]*SchemaVersion, error) {
	return r.store.ListSchemaVersions(ctx, entityType)
}

// DeprecateVersion soft-closes a schema version for new writes.
// Existing entities on the version remain readable.
func (r *Registry) DeprecateVersion(ctx context.Context, entityType string, version int) error {
	v, err := r.store.GetSchemaVersion(ctx, entityType, version)
	if err != nil {
		return err
	}
	if v.IsDeprecated {
		return nil
	}
	now := time.Now().UTC()
	v.IsDeprecated = true
	v.DeprecatedAt = &now
	v.Touch()
	return r.store.UpdateSchemaVersion(ctx, v)
}

// ValidateBackwardCompatibility reports whether newVersion can safely
// replace currentVersion: true iff newVersion's BackwardCompatibleWith
// chain resolves (directly or transitively) back to currentVersion, or
// the two are equal.
func (r *Registry) ValidateBackwardCompatibility(ctx context.Context, entityType string, currentVersion, newVersion int) (bool, error) {
	if currentVersion == newVersion {
		if _, err := r.store.GetSchemaVersion(ctx, entityType, currentVersion); err != nil {
			return false, err
		}
		return true, nil
	}

	visited := make(map[int]struct{})
	at := newVersion
	for {
		if _, seen := visited[at]; seen {
			return false, nil // compatibility pointers form a cycle
		}
		visited[at] = struct{}{}

		v, err := r.store.GetSchemaVersion(ctx, entityType, at)
		if err != nil {
			return false, err
		}
		if v.BackwardCompatibleWith == nil {
			return false, nil
		}
		if *v.BackwardCompatibleWith == currentVersion {
			return true, nil
		}
		at = *v.BackwardCompatibleWith
	}
}

// MappingInput is the creation payload for a canonical mapping.
type MappingInput struct {
	ConnectorID     id.ID          `json:"connector_id"`
	EntityType      string         `json:"entity_type"`
	SchemaVersion   int            `json:"schema_version"`
	ExternalField   string         `json:"external_field"`
	Attribute       string         `json:"attribute"`
	Transform       TransformType  `json:"transform"`
	TransformParams map[string]any `json:"transform_params,omitempty"`
	Required        bool           `json:"required"`
	Default         any            `json:"default,omitempty"`
	Priority        int            `json:"priority"`
}

// CreateMapping registers a field mapping for a connector. The target
// (entityType, schemaVersion) must exist and be non-deprecated, and the
// referenced attribute must be declared for that version.
func (r *Registry) CreateMapping(ctx context.Context, in MappingInput) (*Mapping, error) {
	if in.ConnectorID.IsNil() {
		return nil, fmt.Errorf("canonical: connector id is required")
	}
	if in.Attribute == "" {
		return nil, fmt.Errorf("canonical: attribute is required")
	}
	if in.Transform == "" {
		in.Transform = TransformDirect
	}
	if in.Transform != TransformConstant && in.ExternalField == "" {
		return nil, fmt.Errorf("canonical: external field is required for %s transform", in.Transform)
	}

	v, err := r.store.GetSchemaVersion(ctx, in.EntityType, in.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if v.IsDeprecated {
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionDeprecated, in.EntityType, in.SchemaVersion)
	}
	if _, ok := v.Attribute(in.Attribute); !ok {
		return nil, fmt.Errorf("%w: %q in %s v%d",
			ErrAttributeNotDeclared, in.Attribute, in.EntityType, in.SchemaVersion)
	}

	m := &Mapping{
		Entity:          entity.New(),
		ID:              id.NewMappingID(),
		ConnectorID:     in.ConnectorID,
		EntityType:      in.EntityType,
		SchemaVersion:   in.SchemaVersion,
		ExternalField:   in.ExternalField,
		Attribute:       in.Attribute,
		Transform:       in.Transform,
		TransformParams: in.TransformParams,
		Required:        in.Required,
		Default:         in.Default,
		Priority:        in.Priority,
		Active:          true,
	}

	if err := r.store.CreateMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMappings returns a connector's mappings.
func (r *Registry) ListMappings(ctx context.Context, connectorID id.ID, opts MappingListOpts) ([]*Mapping, error) {
	return r.store.ListMappings(ctx, connectorID, opts)
}

// SetMappingActive toggles a mapping's participation in the map step.
func (r *Registry) SetMappingActive(ctx context.Context, mapID id.ID, active bool) error {
	m, err := r.store.GetMapping(ctx, mapID)
	if err != nil {
		return err
	}
	if m.Active == active {
		return nil
	}
	m.Active = active
	m.Touch()
	return r.store.UpdateMapping(ctx, m)
}

// DeleteMapping removes a mapping.
func (r *Registry) DeleteMapping(ctx context.Context, mapID id.ID) error {
	return r.store.DeleteMapping(ctx, mapID)
}

// MappingSet returns a connector's active mappings for an entity type at
// the highest schema version any of them target, along with that version's
// schema. This is the mapping set the reconciliation engine applies.
func (r *Registry) MappingSet(ctx context.Context, connectorID id.ID, entityType string) ([]*Mapping, *SchemaVersion, error) {
	all, err := r.store.ListMappings(ctx, connectorID, MappingListOpts{
		EntityType: entityType,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%w: no active mappings for connector %s entity type %q",
			ErrMappingNotFound, connectorID, entityType)
	}

	target := 0
	for _, m := range all {
		if m.SchemaVersion > target {
			target = m.SchemaVersion
		}
	}

	v, err := r.store.GetSchemaVersion(ctx, entityType, target)
	if err != nil {
		return nil, nil, err
	}
	if v.IsDeprecated {
		return nil, nil, fmt.Errorf("%w: %s v%d", ErrVersionDeprecated, entityType, target)
	}

	set := make([]*Mapping, 0, len(all))
	for _, m := range all {
		if m.SchemaVersion == target {
			set = append(set, m)
		}
	}
	return set, v, nil
}

// Approve marks a staged canonical entity as human-approved, protecting
// it from automated overwrite.
func (r *Registry) Approve(ctx context.Context, entID id.ID, approvedBy string) (*Entity, error) {
	e, err := r.store.GetEntity(ctx, entID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	e.IsApproved = true
	e.ApprovedBy = approvedBy
	e.ApprovedAt = &now
	e.Touch()
	if err := r.store.UpsertEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Unapprove reopens a canonical entity for automated updates.
func (r *Registry) Unapprove(ctx context.Context, entID id.ID) (*Entity, error) {
	e, err := r.store.GetEntity(ctx, entID)
	if err != nil {
		return nil, err
	}
	e.IsApproved = false
	e.ApprovedBy = ""
	e.ApprovedAt = nil
	e.Touch()
	if err := r.store.UpsertEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
