package canonical

import (
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
)

// TransformType names the transformation applied to an external field
// value before it lands on a canonical attribute.
type TransformType string

// Supported transformations.
const (
	// TransformDirect copies the external value unchanged.
	TransformDirect TransformType = "direct"

	// TransformConstant ignores the external value and emits
	// Params["value"].
	TransformConstant TransformType = "constant"

	// TransformLowercase lowercases a string value.
	TransformLowercase TransformType = "lowercase"

	// TransformUppercase uppercases a string value.
	TransformUppercase TransformType = "uppercase"

	// TransformMultiply multiplies a numeric value by Params["factor"]
	// (unit conversions: kWh→MWh, kg→t).
	TransformMultiply TransformType = "multiply"

	// TransformExpression evaluates Params["expression"] with expr-lang;
	// the environment exposes "value" (the external field) and "record"
	// (the whole inbound record).
	TransformExpression TransformType = "expression"
)

// Mapping maps one external field of a connector's records to one
// canonical attribute at a specific (entity type, schema version).
// Mappings are pinned to their schema version: a new schema version
// requires new mappings.
type Mapping struct {
	entity.Entity

	// ID is the unique TypeID for this mapping.
	ID id.ID `json:"id"`

	// ConnectorID references the owning connector.
	ConnectorID id.ID `json:"connector_id"`

	// EntityType and SchemaVersion identify the mapping target.
	EntityType    string `json:"entity_type"`
	SchemaVersion int    `json:"schema_version"`

	// ExternalField is the source field name in the connector's records.
	ExternalField string `json:"external_field"`

	// Attribute is the canonical attribute this mapping populates.
	Attribute string `json:"attribute"`

	// Transform and TransformParams describe the value transformation.
	Transform       TransformType  `json:"transform"`
	TransformParams map[string]any `json:"transform_params,omitempty"`

	// Required fails the map step when the external field is absent and
	// no Default is configured.
	Required bool `json:"required"`

	// Default is used when the external field is absent.
	Default any `json:"default,omitempty"`

	// Priority orders competing mappings for the same attribute; the
	// highest-priority mapping that yields a value wins.
	Priority int `json:"priority"`

	// Active mappings participate in the map step; inactive ones are kept
	// for history.
	Active bool `json:"active"`
}

// MappingListOpts configures filtering for mapping listing.
type MappingListOpts struct {
	EntityType    string
	SchemaVersion int // 0 means all versions
	ActiveOnly    bool
}
