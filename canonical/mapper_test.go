package canonical_test

import (
	"errors"
	"testing"

	"github.com/verdantiq/esgbridge/canonical"
)

func testVersion() *canonical.SchemaVersion {
	return &canonical.SchemaVersion{
		EntityType: "emission_record",
		Version:    1,
		Attributes: []canonical.Attribute{
			{Name: "facility_code", Type: canonical.AttrString, Required: true},
			{Name: "scope", Type: canonical.AttrString},
			{Name: "co2_tonnes", Type: canonical.AttrNumber},
			{Name: "source_system", Type: canonical.AttrString},
			{Name: "verified", Type: canonical.AttrBoolean},
		},
	}
}

func mapping(field, attr string, transform canonical.TransformType) *canonical.Mapping {
	return &canonical.Mapping{
		ExternalField: field,
		Attribute:     attr,
		Transform:     transform,
		Active:        true,
	}
}

func TestMapperTransforms(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	record := map[string]any{
		"plant":    "FAC-Berlin-01",
		"scope":    "SCOPE_2",
		"kg_co2":   1500.0,
		"verified": true,
	}

	multiply := mapping("kg_co2", "co2_tonnes", canonical.TransformMultiply)
	multiply.TransformParams = map[string]any{"factor": 0.001}

	constant := mapping("", "source_system", canonical.TransformConstant)
	constant.TransformParams = map[string]any{"value": "sap-hr"}

	payload, err := m.Apply([]*canonical.Mapping{
		mapping("plant", "facility_code", canonical.TransformUppercase),
		mapping("scope", "scope", canonical.TransformLowercase),
		multiply,
		constant,
		mapping("verified", "verified", canonical.TransformDirect),
	}, version, record)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := payload["facility_code"]; got != "FAC-BERLIN-01" {
		t.Errorf("facility_code = %v", got)
	}
	if got := payload["scope"]; got != "scope_2" {
		t.Errorf("scope = %v", got)
	}
	if got := payload["co2_tonnes"]; got != 1.5 {
		t.Errorf("co2_tonnes = %v, want 1.5", got)
	}
	if got := payload["source_system"]; got != "sap-hr" {
		t.Errorf("source_system = %v", got)
	}
	if got := payload["verified"]; got != true {
		t.Errorf("verified = %v", got)
	}
}

func TestMapperExpressionTransform(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	mp := mapping("kg_co2", "co2_tonnes", canonical.TransformExpression)
	mp.TransformParams = map[string]any{"expression": "value / 1000"}

	payload, err := m.Apply([]*canonical.Mapping{
		mapping("plant", "facility_code", canonical.TransformDirect),
		mp,
	}, version, map[string]any{"plant": "fac-01", "kg_co2": 2500.0})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := payload["co2_tonnes"]; got != 2.5 {
		t.Errorf("co2_tonnes = %v, want 2.5", got)
	}
}

func TestMapperExpressionRecordAccess(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	// Expressions see the whole record, not just the mapped field.
	mp := mapping("plant", "facility_code", canonical.TransformExpression)
	mp.TransformParams = map[string]any{"expression": `record.region + "-" + value`}

	payload, err := m.Apply([]*canonical.Mapping{mp}, version, map[string]any{
		"plant":  "01",
		"region": "eu",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := payload["facility_code"]; got != "eu-01" {
		t.Errorf("facility_code = %v, want eu-01", got)
	}
}

func TestMapperPriorityWins(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	low := mapping("legacy_code", "facility_code", canonical.TransformDirect)
	low.Priority = 1
	high := mapping("plant_code", "facility_code", canonical.TransformDirect)
	high.Priority = 10

	payload, err := m.Apply([]*canonical.Mapping{low, high}, version, map[string]any{
		"legacy_code": "old-7",
		"plant_code":  "fac-7",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := payload["facility_code"]; got != "fac-7" {
		t.Errorf("facility_code = %v, want the higher-priority value", got)
	}
}

func TestMapperPriorityFallback(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	low := mapping("legacy_code", "facility_code", canonical.TransformDirect)
	low.Priority = 1
	high := mapping("plant_code", "facility_code", canonical.TransformDirect)
	high.Priority = 10

	// The preferred field is absent; the lower-priority mapping fills in.
	payload, err := m.Apply([]*canonical.Mapping{low, high}, version, map[string]any{
		"legacy_code": "old-7",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := payload["facility_code"]; got != "old-7" {
		t.Errorf("facility_code = %v, want fallback value", got)
	}
}

func TestMapperDefault(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	mp := mapping("scope_field", "scope", canonical.TransformDirect)
	mp.Default = "scope_1"

	payload, err := m.Apply([]*canonical.Mapping{
		mapping("plant", "facility_code", canonical.TransformDirect),
		mp,
	}, version, map[string]any{"plant": "fac-01"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := payload["scope"]; got != "scope_1" {
		t.Errorf("scope = %v, want default", got)
	}
}

func TestMapperRequiredMappingMissing(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	mp := mapping("plant", "facility_code", canonical.TransformDirect)
	mp.Required = true

	_, err := m.Apply([]*canonical.Mapping{mp}, version, map[string]any{"other": "x"})
	var mapErr *canonical.MapError
	if !errors.As(err, &mapErr) {
		t.Fatalf("error = %v, want MapError", err)
	}
	if mapErr.Attribute != "facility_code" {
		t.Errorf("attribute = %q", mapErr.Attribute)
	}
}

func TestMapperRequiredSchemaAttributeMissing(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	// facility_code is required by the schema but no mapping targets it.
	_, err := m.Apply([]*canonical.Mapping{
		mapping("scope", "scope", canonical.TransformDirect),
	}, version, map[string]any{"scope": "scope_2"})
	var mapErr *canonical.MapError
	if !errors.As(err, &mapErr) {
		t.Fatalf("error = %v, want MapError", err)
	}
	if mapErr.Attribute != "facility_code" {
		t.Errorf("attribute = %q, want facility_code", mapErr.Attribute)
	}
}

func TestMapperInactiveMappingsIgnored(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	inactive := mapping("scope", "scope", canonical.TransformDirect)
	inactive.Active = false

	payload, err := m.Apply([]*canonical.Mapping{
		mapping("plant", "facility_code", canonical.TransformDirect),
		inactive,
	}, version, map[string]any{"plant": "fac-01", "scope": "scope_2"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := payload["scope"]; ok {
		t.Error("inactive mapping produced a value")
	}
}

func TestMapperTypeErrors(t *testing.T) {
	m := canonical.NewMapper()
	version := testVersion()

	tests := []struct {
		name  string
		setup func() *canonical.Mapping
		rec   map[string]any
	}{
		{
			"lowercase on number",
			func() *canonical.Mapping {
				return mapping("plant", "facility_code", canonical.TransformLowercase)
			},
			map[string]any{"plant": 42.0},
		},
		{
			"multiply on string",
			func() *canonical.Mapping {
				mp := mapping("plant", "facility_code", canonical.TransformMultiply)
				mp.TransformParams = map[string]any{"factor": 2.0}
				return mp
			},
			map[string]any{"plant": "abc"},
		},
		{
			"constant without value",
			func() *canonical.Mapping {
				return mapping("", "facility_code", canonical.TransformConstant)
			},
			map[string]any{},
		},
		{
			"unknown transform",
			func() *canonical.Mapping {
				return mapping("plant", "facility_code", canonical.TransformType("reverse"))
			},
			map[string]any{"plant": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Apply([]*canonical.Mapping{tt.setup()}, version, tt.rec)
			var mapErr *canonical.MapError
			if !errors.As(err, &mapErr) {
				t.Errorf("error = %v, want MapError", err)
			}
		})
	}
}
