package canonical

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MapError reports why an inbound record could not be mapped to the
// canonical shape. The reconciliation engine records it as a Rejected
// sync outcome rather than propagating it as a failure.
type MapError struct {
	Attribute string
	Reason    string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("canonical: map attribute %q: %s", e.Attribute, e.Reason)
}

// Mapper applies a connector's mapping set to inbound external records,
// producing canonical payloads. Expression transforms are compiled once
// and cached.
type Mapper struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program // keyed by expression source
}

// NewMapper creates a mapper.
func NewMapper() *Mapper {
	return &Mapper{
		programs: make(map[string]*vm.Program),
	}
}

// Apply maps an external record through the mapping set onto the given
// schema version. Competing mappings for the same attribute are tried in
// descending priority order; the first one yielding a value wins. A
// required mapping (or required schema attribute) left without a value
// fails the whole record.
func (m *Mapper) Apply(mappings []*Mapping, version *SchemaVersion, record map[string]any) (map[string]any, error) {
	byAttr := make(map[string][]*Mapping)
	for _, mp := range mappings {
		if !mp.Active {
			continue
		}
		byAttr[mp.Attribute] = append(byAttr[mp.Attribute], mp)
	}

	payload := make(map[string]any, len(byAttr))

	// Deterministic attribute order keeps error messages stable.
	attrs := make([]string, 0, len(byAttr))
	for a := range byAttr {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)

	for _, attr := range attrs {
		group := byAttr[attr]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Priority > group[j].Priority
		})

		required := false
		var value any
		for _, mp := range group {
			if mp.Required {
				required = true
			}

			v, ok, err := m.resolve(mp, record)
			if err != nil {
				return nil, &MapError{Attribute: attr, Reason: err.Error()}
			}
			if ok {
				value = v
				break
			}
		}

		if value == nil {
			if required {
				return nil, &MapError{Attribute: attr, Reason: "required mapping produced no value"}
			}
			continue
		}
		payload[attr] = value
	}

	for _, name := range version.RequiredAttributes() {
		if _, ok := payload[name]; !ok {
			return nil, &MapError{Attribute: name, Reason: "required attribute missing after mapping"}
		}
	}

	return payload, nil
}

// resolve produces this mapping's value from the record, applying the
// transform. The second return is false when the mapping yields nothing
// (absent field, no default).
func (m *Mapper) resolve(mp *Mapping, record map[string]any) (any, bool, error) {
	if mp.Transform == TransformConstant {
		v, ok := mp.TransformParams["value"]
		if !ok {
			return nil, false, fmt.Errorf("constant transform requires params.value")
		}
		return v, true, nil
	}

	raw, present := record[mp.ExternalField]
	if !present || raw == nil {
		if mp.Default != nil {
			return mp.Default, true, nil
		}
		return nil, false, nil
	}

	switch mp.Transform {
	case TransformDirect, "":
		return raw, true, nil

	case TransformLowercase:
		s, ok := raw.(string)
		if !ok {
			return nil, false, fmt.Errorf("lowercase transform requires a string, got %T", raw)
		}
		return strings.ToLower(s), true, nil

	case TransformUppercase:
		s, ok := raw.(string)
		if !ok {
			return nil, false, fmt.Errorf("uppercase transform requires a string, got %T", raw)
		}
		return strings.ToUpper(s), true, nil

	case TransformMultiply:
		factor, err := toFloat(mp.TransformParams["factor"])
		if err != nil {
			return nil, false, fmt.Errorf("multiply transform: invalid factor: %v", err)
		}
		v, err := toFloat(raw)
		if err != nil {
			return nil, false, fmt.Errorf("multiply transform: %v", err)
		}
		return v * factor, true, nil

	case TransformExpression:
		code, ok := mp.TransformParams["expression"].(string)
		if !ok || code == "" {
			return nil, false, fmt.Errorf("expression transform requires params.expression")
		}
		out, err := m.eval(code, map[string]any{
			"value":  raw,
			"record": record,
		})
		if err != nil {
			return nil, false, err
		}
		if out == nil {
			return nil, false, nil
		}
		return out, true, nil

	default:
		return nil, false, fmt.Errorf("unknown transform %q", mp.Transform)
	}
}

// eval runs an expression with the given environment, compiling and
// caching it on first use.
func (m *Mapper) eval(code string, env map[string]any) (any, error) {
	m.mu.RLock()
	program, ok := m.programs[code]
	m.mu.RUnlock()

	if !ok {
		var err error
		program, err = expr.Compile(code, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile expression: %v", err)
		}
		m.mu.Lock()
		m.programs[code] = program
		m.mu.Unlock()
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %v", err)
	}
	return out, nil
}

// toFloat coerces JSON-decoded numeric values to float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
