// Package audit converts state changes into validated, canonical events and
// publishes them on the bus under audit.transaction.logged. It does not
// persist anything itself; persistence is a subscriber's job.
package audit

import (
	"fmt"
	"sync"
)

// FieldKind is the declared type of one detail field.
type FieldKind string

const (
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindString FieldKind = "string"
	KindBool   FieldKind = "bool"
	KindMap    FieldKind = "map"
	KindList   FieldKind = "list"
)

// DetailSchema declares the expected detail fields for one transaction type.
type DetailSchema struct {
	// Fields maps detail field names to their kinds.
	Fields map[string]FieldKind
	// Required lists fields that must be present.
	Required []string
	// AllowExtra permits fields not named in Fields.
	AllowExtra bool
}

// ValidationError reports a malformed audit payload. The event is refused;
// nothing is published.
type ValidationError struct {
	TransactionType string
	Field           string
	Reason          string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("audit validation failed for %s: field %q: %s", e.TransactionType, e.Field, e.Reason)
	}
	return fmt.Sprintf("audit validation failed for %s: %s", e.TransactionType, e.Reason)
}

// TransactionValidator type-checks event details against per-transaction-type
// schemas. The registry is writable at runtime.
type TransactionValidator struct {
	mu           sync.RWMutex
	schemas      map[string]DetailSchema
	allowUnknown bool
}

// NewValidator builds a validator preloaded with the core transaction-type
// vocabulary. allowUnknown governs transaction types with no registered schema.
func NewValidator(allowUnknown bool) *TransactionValidator {
	v := &TransactionValidator{
		schemas:      make(map[string]DetailSchema),
		allowUnknown: allowUnknown,
	}
	v.registerBuiltins()
	return v
}

// Register installs or replaces the schema for a transaction type.
func (v *TransactionValidator) Register(transactionType string, schema DetailSchema) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[transactionType] = schema
}

// Validate checks details against the schema registered for transactionType.
// Unknown transaction types pass when allowUnknown is set, otherwise fail.
func (v *TransactionValidator) Validate(transactionType string, details map[string]any) error {
	v.mu.RLock()
	schema, ok := v.schemas[transactionType]
	allowUnknown := v.allowUnknown
	v.mu.RUnlock()

	if !ok {
		if allowUnknown {
			return nil
		}
		return &ValidationError{TransactionType: transactionType, Reason: "unknown transaction type"}
	}

	for _, req := range schema.Required {
		if _, present := details[req]; !present {
			return &ValidationError{TransactionType: transactionType, Field: req, Reason: "required field missing"}
		}
	}

	for name, value := range details {
		kind, declared := schema.Fields[name]
		if !declared {
			if schema.AllowExtra {
				continue
			}
			return &ValidationError{TransactionType: transactionType, Field: name, Reason: "unexpected field"}
		}
		if err := checkKind(value, kind); err != nil {
			return &ValidationError{TransactionType: transactionType, Field: name, Reason: err.Error()}
		}
	}
	return nil
}

// checkKind verifies a detail value against its declared kind. Integers are
// accepted where floats are expected.
func checkKind(value any, kind FieldKind) error {
	if value == nil {
		return nil
	}
	switch kind {
	case KindInt:
		switch value.(type) {
		case int, int32, int64:
			return nil
		}
	case KindFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return nil
		}
	case KindString:
		if _, ok := value.(string); ok {
			return nil
		}
	case KindBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case KindMap:
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case KindList:
		switch value.(type) {
		case []any, []string, []int64:
			return nil
		}
	}
	return fmt.Errorf("expected %s, got %T", kind, value)
}

// registerBuiltins installs the stable transaction-type vocabulary.
func (v *TransactionValidator) registerBuiltins() {
	resourceChange := DetailSchema{
		Fields: map[string]FieldKind{
			"resource":   KindString,
			"delta":      KindInt,
			"old_value":  KindInt,
			"new_value":  KindInt,
			"source":     KindString,
			"modifiers":  KindMap,
			"caps_hit":   KindList,
			"base_delta": KindInt,
		},
		Required:   []string{"resource", "delta", "old_value", "new_value"},
		AllowExtra: true,
	}
	for _, t := range []string{
		"resource_change_lumees",
		"resource_change_grace",
		"resource_change_crystals",
		"resource_change_energy",
		"resource_change_stamina",
		"resource_change_survival_hp",
		"resource_change_charges",
		"resource_change_xp",
	} {
		v.schemas[t] = resourceChange
	}

	// Combined grant/consume events carry per-resource maps instead of the
	// single-resource fields above.
	resourceTxn := DetailSchema{
		Fields: map[string]FieldKind{
			"source":            KindString,
			"before":            KindMap,
			"after":             KindMap,
			"deltas":            KindMap,
			"modifiers_applied": KindMap,
			"caps_hit":          KindList,
		},
		Required:   []string{"source", "before", "after", "deltas"},
		AllowExtra: true,
	}
	v.schemas["resource_grant"] = resourceTxn
	v.schemas["resource_consume"] = resourceTxn

	v.schemas["fusion_attempt"] = DetailSchema{
		Fields: map[string]FieldKind{
			"tier":       KindInt,
			"base":       KindString,
			"success":    KindBool,
			"rate":       KindFloat,
			"shards_spent": KindInt,
			"reason":     KindString,
		},
		Required:   []string{"tier", "success"},
		AllowExtra: true,
	}

	v.schemas["maiden_fused"] = DetailSchema{
		Fields: map[string]FieldKind{
			"base":     KindString,
			"tier":     KindInt,
			"new_tier": KindInt,
		},
		Required:   []string{"base", "tier"},
		AllowExtra: true,
	}

	v.schemas["reward_claimed"] = DetailSchema{
		Fields: map[string]FieldKind{
			"claim_type": KindString,
			"claim_key":  KindString,
			"granted":    KindMap,
		},
		Required:   []string{"claim_type", "claim_key"},
		AllowExtra: true,
	}
}
