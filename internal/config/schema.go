package config

import (
	"fmt"
)

// FieldType is the declared primitive type of a schema leaf.
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
)

// Schema is a recursive declaration of a config subtree: each field maps to
// either a primitive type or a nested schema. AllowExtra governs unknown keys.
type Schema struct {
	Fields     map[string]FieldSpec
	AllowExtra bool
}

// FieldSpec declares one field: exactly one of Type or Nested is set.
type FieldSpec struct {
	Type   FieldType
	Nested *Schema
}

// ValidationError reports the first mismatch found while walking a value
// against a schema, with a dotted path to the offending field.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s", e.Path, e.Reason)
}

// Validate walks value against the schema. Integers are accepted where
// floats are expected. The first mismatch stops the walk.
func (s *Schema) Validate(path string, value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("expected mapping, got %T", value)}
	}

	for key, v := range m {
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		spec, declared := s.Fields[key]
		if !declared {
			if s.AllowExtra {
				continue
			}
			return &ValidationError{Path: childPath, Reason: "unexpected key"}
		}
		if spec.Nested != nil {
			if err := spec.Nested.Validate(childPath, v); err != nil {
				return err
			}
			continue
		}
		if err := checkFieldType(v, spec.Type); err != nil {
			return &ValidationError{Path: childPath, Reason: err.Error()}
		}
	}
	return nil
}

func checkFieldType(value any, t FieldType) error {
	if value == nil {
		return nil
	}
	switch t {
	case TypeInt:
		switch value.(type) {
		case int, int32, int64:
			return nil
		// JSON round-trips integers as float64; accept whole floats.
		case float64:
			f := value.(float64)
			if f == float64(int64(f)) {
				return nil
			}
		}
	case TypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return nil
		}
	case TypeString:
		if _, ok := value.(string); ok {
			return nil
		}
	case TypeBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case TypeList:
		switch value.(type) {
		case []any, []string:
			return nil
		}
	}
	return fmt.Errorf("expected %s, got %T", t, value)
}
