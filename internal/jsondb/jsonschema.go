// Exports table schemas as JSON Schema documents.

package jsondb

import (
	"github.com/invopop/jsonschema"
)

// JSONSchema describes the records of a table with this schema as a JSON
// Schema (draft 2020-12).
//
// Nullable attributes accept null in addition to their type. Attributes that
// are neither nullable nor defaulted are required. Undeclared keys are
// allowed, matching what Validate accepts.
func (s Schema) JSONSchema(title string) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set(IDKey, &jsonschema.Schema{
		Type:        "integer",
		Minimum:     "1",
		ReadOnly:    true,
		Description: "Identity assigned by the store",
	})
	var required []string
	for i := range s {
		a := &s[i]
		p := typeSchema(a.Type)
		if a.Nullable && a.Type != TypeAny {
			p = &jsonschema.Schema{AnyOf: []*jsonschema.Schema{p, {Type: "null"}}}
		}
		p.Default = cloneValue(a.Default)
		props.Set(a.Name, p)
		if !a.Nullable && a.Default == nil {
			required = append(required, a.Name)
		}
	}
	return &jsonschema.Schema{
		Version:    jsonschema.Version,
		Title:      title,
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func typeSchema(t Type) *jsonschema.Schema {
	switch t {
	case TypeString:
		return &jsonschema.Schema{Type: "string"}
	case TypeNumber:
		return &jsonschema.Schema{Type: "number"}
	case TypeBoolean:
		return &jsonschema.Schema{Type: "boolean"}
	case TypeObject:
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{{Type: "object"}, {Type: "array"}}}
	case TypeAny:
		return &jsonschema.Schema{}
	default:
		return &jsonschema.Schema{}
	}
}
