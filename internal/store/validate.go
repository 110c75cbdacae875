package store

import (
	"fmt"

	"github.com/shrikeio/shrike/internal/types"
)

// ValidateParameters checks a constraint's parameter map against the
// template's declared parameter schema. Undeclared keys are rejected so that
// typos do not silently turn a constraint into a no-op.
func ValidateParameters(tpl types.Template, params map[string]interface{}) error {
	declared := make(map[string]types.ParameterSpec, len(tpl.Parameters))
	for _, p := range tpl.Parameters {
		declared[p.Name] = p
	}

	for _, p := range tpl.Parameters {
		if !p.Required {
			continue
		}
		if _, present := params[p.Name]; !present {
			return fmt.Errorf("missing required parameter %q: %w", p.Name, ErrInvalidParameters)
		}
	}

	for name, value := range params {
		spec, ok := declared[name]
		if !ok {
			return fmt.Errorf("parameter %q not declared by template %s: %w", name, tpl.Name, ErrInvalidParameters)
		}
		if err := checkParamType(spec, value); err != nil {
			return fmt.Errorf("parameter %q: %v: %w", name, err, ErrInvalidParameters)
		}
	}
	return nil
}

func checkParamType(spec types.ParameterSpec, value interface{}) error {
	switch spec.Type {
	case types.ParamString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case types.ParamBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case types.ParamInt:
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			// YAML/JSON decoding yields float64 for numbers.
			if v != float64(int64(v)) {
				return fmt.Errorf("expected integer, got %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case types.ParamStringList:
		switch v := value.(type) {
		case []string:
		case []interface{}:
			for i, item := range v {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("expected string at index %d, got %T", i, item)
				}
			}
		default:
			return fmt.Errorf("expected string list, got %T", value)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", spec.Type)
	}
	return nil
}
