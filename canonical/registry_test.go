package canonical_test

import (
	"context"
	"errors"
	"testing"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/store/memory"
)

func newRegistry(t *testing.T) *canonical.Registry {
	t.Helper()
	return canonical.NewRegistry(memory.New(), nil)
}

func employeeV1(t *testing.T, r *canonical.Registry) *canonical.SchemaVersion {
	t.Helper()
	v, err := r.CreateVersion(context.Background(), canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
		Attributes: []canonical.Attribute{
			{Name: "employee_id", Type: canonical.AttrString, Required: true},
			{Name: "department", Type: canonical.AttrString},
			{Name: "fte_ratio", Type: canonical.AttrNumber},
		},
	})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	return v
}

func TestCreateVersionMonotonic(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)

	// Skipping a version is rejected.
	_, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    3,
		Attributes: []canonical.Attribute{{Name: "employee_id", Type: canonical.AttrString}},
	})
	if !errors.Is(err, canonical.ErrNonMonotonicVersion) {
		t.Errorf("version 3 after 1: error = %v, want ErrNonMonotonicVersion", err)
	}

	// Re-creating an existing version is rejected.
	_, err = r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
		Attributes: []canonical.Attribute{{Name: "employee_id", Type: canonical.AttrString}},
	})
	if !errors.Is(err, canonical.ErrNonMonotonicVersion) {
		t.Errorf("duplicate version 1: error = %v, want ErrNonMonotonicVersion", err)
	}

	// The successor is accepted.
	v2, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    2,
		Attributes: []canonical.Attribute{{Name: "employee_id", Type: canonical.AttrString, Required: true}},
	})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("version = %d, want 2", v2.Version)
	}

	// A different entity type starts its own sequence at 1.
	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "cost_center",
		Version:    1,
		Attributes: []canonical.Attribute{{Name: "code", Type: canonical.AttrString}},
	}); err != nil {
		t.Errorf("cost_center v1: %v", err)
	}
}

func TestCreateVersionValidation(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		Version:    1,
		Attributes: []canonical.Attribute{{Name: "x"}},
	}); err == nil {
		t.Error("expected error for missing entity type")
	}

	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
	}); err == nil {
		t.Error("expected error for empty attribute list")
	}

	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
		Attributes: []canonical.Attribute{
			{Name: "department"},
			{Name: "department"},
		},
	}); err == nil {
		t.Error("expected error for duplicate attribute")
	}
}

func TestCreateVersionCompatTargetMustExist(t *testing.T) {
	r := newRegistry(t)
	employeeV1(t, r)

	missing := 7
	_, err := r.CreateVersion(context.Background(), canonical.VersionInput{
		EntityType:             "employee",
		Version:                2,
		BackwardCompatibleWith: &missing,
		Attributes:             []canonical.Attribute{{Name: "employee_id"}},
	})
	if !errors.Is(err, canonical.ErrVersionNotFound) {
		t.Errorf("error = %v, want ErrVersionNotFound", err)
	}
}

func TestValidateBackwardCompatibility(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)

	one := 1
	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType:             "employee",
		Version:                2,
		BackwardCompatibleWith: &one,
		Attributes:             []canonical.Attribute{{Name: "employee_id", Required: true}},
	}); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	two := 2
	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType:             "employee",
		Version:                3,
		BackwardCompatibleWith: &two,
		Attributes:             []canonical.Attribute{{Name: "employee_id", Required: true}},
	}); err != nil {
		t.Fatalf("create v3: %v", err)
	}

	// Breaking version without a compatibility pointer.
	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType: "employee",
		Version:    4,
		Attributes: []canonical.Attribute{{Name: "worker_id", Required: true}},
	}); err != nil {
		t.Fatalf("create v4: %v", err)
	}

	tests := []struct {
		name     string
		current  int
		proposed int
		want     bool
	}{
		{"direct link", 1, 2, true},
		{"transitive chain", 1, 3, true},
		{"same version", 2, 2, true},
		{"breaking version", 3, 4, false},
		{"reverse direction", 2, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ValidateBackwardCompatibility(ctx, "employee", tt.current, tt.proposed)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got != tt.want {
				t.Errorf("compatible(%d -> %d) = %v, want %v", tt.current, tt.proposed, got, tt.want)
			}
		})
	}
}

func TestDeprecateVersion(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)

	if err := r.DeprecateVersion(ctx, "employee", 1); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	v, err := r.GetVersion(ctx, "employee", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.IsDeprecated || v.DeprecatedAt == nil {
		t.Error("version not marked deprecated")
	}

	// Deprecation is idempotent.
	if err := r.DeprecateVersion(ctx, "employee", 1); err != nil {
		t.Errorf("second deprecate: %v", err)
	}
}

func TestCreateMapping(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)
	connID := id.NewConnectorID()

	m, err := r.CreateMapping(ctx, canonical.MappingInput{
		ConnectorID:   connID,
		EntityType:    "employee",
		SchemaVersion: 1,
		ExternalField: "emp_no",
		Attribute:     "employee_id",
	})
	if err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	if !m.Active {
		t.Error("new mapping not active")
	}
	if m.Transform != canonical.TransformDirect {
		t.Errorf("transform = %s, want direct default", m.Transform)
	}
}

func TestCreateMappingRejectsUndeclaredAttribute(t *testing.T) {
	r := newRegistry(t)
	employeeV1(t, r)

	_, err := r.CreateMapping(context.Background(), canonical.MappingInput{
		ConnectorID:   id.NewConnectorID(),
		EntityType:    "employee",
		SchemaVersion: 1,
		ExternalField: "salary",
		Attribute:     "annual_salary",
	})
	if !errors.Is(err, canonical.ErrAttributeNotDeclared) {
		t.Errorf("error = %v, want ErrAttributeNotDeclared", err)
	}
}

func TestCreateMappingRejectsDeprecatedVersion(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)
	if err := r.DeprecateVersion(ctx, "employee", 1); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	_, err := r.CreateMapping(ctx, canonical.MappingInput{
		ConnectorID:   id.NewConnectorID(),
		EntityType:    "employee",
		SchemaVersion: 1,
		ExternalField: "emp_no",
		Attribute:     "employee_id",
	})
	if !errors.Is(err, canonical.ErrVersionDeprecated) {
		t.Errorf("error = %v, want ErrVersionDeprecated", err)
	}
}

func TestMappingSetUsesHighestVersion(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	employeeV1(t, r)

	one := 1
	if _, err := r.CreateVersion(ctx, canonical.VersionInput{
		EntityType:             "employee",
		Version:                2,
		BackwardCompatibleWith: &one,
		Attributes: []canonical.Attribute{
			{Name: "employee_id", Type: canonical.AttrString, Required: true},
			{Name: "site_code", Type: canonical.AttrString},
		},
	}); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	connID := id.NewConnectorID()

	mustMap := func(version int, field, attr string) *canonical.Mapping {
		t.Helper()
		m, err := r.CreateMapping(ctx, canonical.MappingInput{
			ConnectorID:   connID,
			EntityType:    "employee",
			SchemaVersion: version,
			ExternalField: field,
			Attribute:     attr,
		})
		if err != nil {
			t.Fatalf("create mapping %s v%d: %v", attr, version, err)
		}
		return m
	}

	mustMap(1, "emp_no", "employee_id")
	mustMap(2, "emp_no", "employee_id")
	m2 := mustMap(2, "site", "site_code")

	set, version, err := r.MappingSet(ctx, connID, "employee")
	if err != nil {
		t.Fatalf("mapping set: %v", err)
	}
	if version.Version != 2 {
		t.Errorf("target version = %d, want 2", version.Version)
	}
	if len(set) != 2 {
		t.Fatalf("set size = %d, want 2 (v1 mapping excluded)", len(set))
	}
	for _, m := range set {
		if m.SchemaVersion != 2 {
			t.Errorf("mapping %s targets v%d, want 2", m.Attribute, m.SchemaVersion)
		}
	}

	// Deactivating the v2 mappings drops the target back to v1.
	if err := r.SetMappingActive(ctx, m2.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
}

func TestMappingSetNoMappings(t *testing.T) {
	r := newRegistry(t)
	employeeV1(t, r)

	_, _, err := r.MappingSet(context.Background(), id.NewConnectorID(), "employee")
	if !errors.Is(err, canonical.ErrMappingNotFound) {
		t.Errorf("error = %v, want ErrMappingNotFound", err)
	}
}
