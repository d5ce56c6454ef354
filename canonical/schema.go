// Package canonical implements the canonical schema and mapping registry.
//
// Canonical entities are the internal normalized representation that
// external systems (HR, Finance) map into. Schema definitions are
// versioned per entity type as a linear sequence; field mappings are
// pinned to exactly one schema version and never auto-migrate.
package canonical

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// Sentinel errors for registry operations.
var (
	// ErrVersionNotFound is returned when a schema version does not exist.
	ErrVersionNotFound = errors.New("canonical: schema version not found")

	// ErrNonMonotonicVersion is returned when a new version number is not
	// exactly the current maximum plus one.
	ErrNonMonotonicVersion = errors.New("canonical: schema versions must be created in sequence")

	// ErrVersionDeprecated is returned when writing against a deprecated
	// schema version. Deprecated versions remain readable.
	ErrVersionDeprecated = errors.New("canonical: schema version is deprecated")

	// ErrAttributeNotDeclared is returned when a mapping references an
	// attribute that the target schema version does not declare.
	ErrAttributeNotDeclared = errors.New("canonical: attribute not declared for schema version")

	// ErrMappingNotFound is returned when a mapping does not exist.
	ErrMappingNotFound = errors.New("canonical: mapping not found")

	// ErrEntityNotFound is returned when a canonical entity does not exist.
	ErrEntityNotFound = errors.New("canonical: entity not found")

	// ErrRevisionConflict is returned when an entity write loses an
	// optimistic concurrency check.
	ErrRevisionConflict = errors.New("canonical: entity revision conflict")
)

// AttributeType is the declared value type of a canonical attribute.
type AttributeType string

// Attribute value types.
const (
	AttrString  AttributeType = "string"
	AttrNumber  AttributeType = "number"
	AttrBoolean AttributeType = "boolean"
	AttrDate    AttributeType = "date"
	AttrJSON    AttributeType = "json"
)

// Attribute declares one field of a canonical entity type at a specific
// schema version.
type Attribute struct {
	// Name is the canonical field name.
	Name string `json:"name"`

	// Type is the declared value type.
	Type AttributeType `json:"type"`

	// Required marks attributes that every entity payload must carry.
	Required bool `json:"required"`

	// Deprecated marks attributes scheduled for removal in a later version.
	Deprecated bool `json:"deprecated"`

	// Description is a human-readable explanation.
	Description string `json:"description,omitempty"`
}

// SchemaVersion is one version of a canonical entity type's schema.
// Versions form a linear sequence per entity type.
type SchemaVersion struct {
	entity.Entity

	// ID is the unique TypeID for this schema version.
	ID id.ID `json:"id"`

	// EntityType names the canonical entity type (e.g. "employee",
	// "cost_center", "emission_record").
	EntityType string `json:"entity_type"`

	// Version is the position in the entity type's linear version sequence.
	Version int `json:"version"`

	// BackwardCompatibleWith points at the most recent earlier version this
	// one is backward compatible with, if any.
	BackwardCompatibleWith *int `json:"backward_compatible_with,omitempty"`

	// Attributes are the fields declared for this version.
	Attributes []Attribute `json:"attributes"`

	// Schema is an optional JSON Schema validated against mapped payloads.
	Schema json.RawMessage `json:"schema,omitempty"`

	// IsDeprecated marks versions closed for new writes. Reads still work.
	IsDeprecated bool `json:"deprecated"`

	// DeprecatedAt is when the version was deprecated.
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// Attribute returns the declared attribute with the given name.
func (v *SchemaVersion) Attribute(name string) (Attribute, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// RequiredAttributes returns the names of all required, non-deprecated
// attributes.
func (v *SchemaVersion) RequiredAttributes() []string {
	var names []string
	for _, a := range v.Attributes {
		if a.Required && !a.Deprecated {
			names = append(names, a.Name)
		}
	}
	return names
}
