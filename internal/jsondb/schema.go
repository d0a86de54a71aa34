// Handles attribute declarations and schema construction.

package jsondb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Type is the declared type of an attribute.
type Type string

const (
	// TypeString accepts JSON strings.
	TypeString Type = "string"
	// TypeNumber accepts finite JSON numbers.
	TypeNumber Type = "number"
	// TypeBoolean accepts true and false.
	TypeBoolean Type = "boolean"
	// TypeObject accepts JSON objects and arrays.
	TypeObject Type = "object"
	// TypeAny skips type checking.
	TypeAny Type = "any"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeAny:
		return true
	default:
		return false
	}
}

// IDKey is the record key holding the store-assigned identity.
const IDKey = "_id"

// Attribute declares one field of a table.
//
// A nil Default means the attribute has no default. Any other value, even a
// falsy one, is applied when the attribute is missing on insert.
type Attribute struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"null"`
	Default  any    `json:"default"`
}

// check applies the nullability, numeric and type rules to a resolved value.
func (a *Attribute) check(v any) error {
	if v == nil {
		if !a.Nullable {
			return &ValidationError{Column: a.Name, Err: ErrNullNotAllowed}
		}
		return nil
	}
	if a.Type == TypeNumber && !isFinite(v) {
		return &ValidationError{Column: a.Name, Err: ErrInvalidNumericValue}
	}
	if a.Type != TypeAny {
		if actual := typeName(v); actual != string(a.Type) {
			return &ValidationError{Column: a.Name, Expected: a.Type, Actual: actual, Err: ErrTypeMismatch}
		}
	}
	return nil
}

// Schema is the ordered list of attributes of a table.
type Schema []Attribute

// NewSchema normalizes and checks attribute declarations.
//
// An empty Type becomes TypeAny. Defaults are normalized to their JSON
// representation and must themselves satisfy the attribute.
func NewSchema(attrs []Attribute) (Schema, error) {
	s := make(Schema, 0, len(attrs))
	seen := make(map[string]struct{}, len(attrs))
	for i, a := range attrs {
		if a.Name == "" {
			return nil, &SchemaError{Index: i, Err: ErrMissingColumnName}
		}
		if _, ok := seen[a.Name]; ok {
			return nil, &SchemaError{Index: i, Column: a.Name, Err: ErrDuplicateColumn}
		}
		seen[a.Name] = struct{}{}
		if a.Name == IDKey {
			return nil, &SchemaError{Index: i, Column: a.Name, Err: fmt.Errorf("%w: %s is reserved", ErrInvalidAttributeSpec, IDKey)}
		}
		if a.Type == "" {
			a.Type = TypeAny
		}
		if !a.Type.Valid() {
			return nil, &SchemaError{Index: i, Column: a.Name, Err: fmt.Errorf("%w: unknown type %q", ErrInvalidAttributeSpec, a.Type)}
		}
		if a.Default != nil {
			if err := a.check(a.Default); err != nil {
				return nil, &SchemaError{Index: i, Column: a.Name, Err: fmt.Errorf("%w: default: %w", ErrInvalidAttributeSpec, err)}
			}
			d, err := normalizeValue(a.Default)
			if err != nil {
				return nil, &SchemaError{Index: i, Column: a.Name, Err: fmt.Errorf("%w: default: %w", ErrInvalidAttributeSpec, err)}
			}
			a.Default = d
		}
		s = append(s, a)
	}
	return s, nil
}

// Lookup returns the attribute with the given name.
func (s Schema) Lookup(name string) (Attribute, bool) {
	for _, a := range s {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Names returns the attribute names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i := range s {
		names[i] = s[i].Name
	}
	return names
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	c := slices.Clone(s)
	for i := range c {
		c[i].Default = cloneValue(c[i].Default)
	}
	return c
}

// DecodeAttributes decodes a JSON array of attribute objects.
//
// Fields other than name, type, null and default are ignored. The result
// still has to go through NewSchema.
func DecodeAttributes(data []byte) ([]Attribute, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: attributes must be an array: %w", ErrInvalidAttributeSpec, err)
	}
	attrs := make([]Attribute, 0, len(raw))
	for i, r := range raw {
		if t := bytes.TrimSpace(r); len(t) == 0 || t[0] != '{' {
			return nil, &SchemaError{Index: i, Err: fmt.Errorf("%w: each attribute must be an object", ErrInvalidAttributeSpec)}
		}
		var fields struct {
			Name     *string `json:"name"`
			Type     *string `json:"type"`
			Nullable *bool   `json:"null"`
			Default  any     `json:"default"`
		}
		if err := json.Unmarshal(r, &fields); err != nil {
			return nil, &SchemaError{Index: i, Err: fmt.Errorf("%w: %w", ErrInvalidAttributeSpec, err)}
		}
		var a Attribute
		if fields.Name != nil {
			a.Name = *fields.Name
		}
		if fields.Type != nil {
			a.Type = Type(*fields.Type)
		}
		if fields.Nullable != nil {
			a.Nullable = *fields.Nullable
		}
		a.Default = fields.Default
		attrs = append(attrs, a)
	}
	return attrs, nil
}
