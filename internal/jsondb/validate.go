// Applies schema rules to candidate records.

package jsondb

import (
	"encoding/json"
	"math"
	"reflect"
	"slices"
)

// Validate checks a candidate record against every declared attribute.
//
// Attributes are processed in schema order and the first failure is
// returned. Missing attributes receive their default, or null when nullable.
// Undeclared keys are kept unvalidated. A caller-supplied "_id" is dropped.
// The candidate is not modified; the returned record is a normalized copy.
func Validate(schema Schema, candidate map[string]any) (Record, error) {
	resolved := make(Record, len(candidate)+len(schema))
	for i := range schema {
		a := &schema[i]
		v, ok := candidate[a.Name]
		if !ok {
			switch {
			case a.Default != nil:
				v = cloneValue(a.Default)
			case a.Nullable:
				v = nil
			default:
				return nil, &ValidationError{Column: a.Name, Err: ErrMissingRequiredField}
			}
		}
		if err := a.check(v); err != nil {
			return nil, err
		}
		resolved[a.Name] = v
	}
	for k, v := range candidate {
		if k == IDKey {
			continue
		}
		if _, ok := resolved[k]; !ok {
			resolved[k] = v
		}
	}
	return normalizeRecord(resolved)
}

// ValidatePatch checks an update payload.
//
// Only the keys present in patch are checked and no default is applied. A key
// that the schema does not declare fails with ErrUnknownColumn; this includes
// "_id", which is immutable.
func ValidatePatch(schema Schema, patch map[string]any) (Record, error) {
	var unknown []string
	for k := range patch {
		if _, ok := schema.Lookup(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) != 0 {
		slices.Sort(unknown)
		return nil, &ValidationError{Column: unknown[0], Err: ErrUnknownColumn}
	}
	for i := range schema {
		a := &schema[i]
		v, ok := patch[a.Name]
		if !ok {
			continue
		}
		if err := a.check(v); err != nil {
			return nil, err
		}
	}
	return normalizeRecord(patch)
}

// normalizeRecord converts every value to its JSON representation so that the
// in-memory record equals what a reload from disk would produce.
func normalizeRecord(r map[string]any) (Record, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make(Record, len(r))
	for _, k := range keys {
		v, err := normalizeValue(r[k])
		if err != nil {
			return nil, &ValidationError{Column: k, Err: err}
		}
		out[k] = v
	}
	return out, nil
}

// normalizeValue returns v as encoding/json would decode it into an any.
func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, ErrInvalidNumericValue
		}
		return t, nil
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			s[i] = n
		}
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, ErrUnsupportedValue
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ErrUnsupportedValue
	}
	return out, nil
}

// typeName returns the JavaScript-style type name of a value: string,
// number, boolean, object or null. Arrays are objects.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return string(TypeString)
	case bool:
		return string(TypeBoolean)
	case json.Number:
		return string(TypeNumber)
	case map[string]any, []any:
		return string(TypeObject)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return string(TypeString)
	case reflect.Bool:
		return string(TypeBoolean)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return string(TypeNumber)
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return string(TypeObject)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return typeName(rv.Elem().Interface())
	default:
		return rv.Kind().String()
	}
}

// isFinite reports false for NaN and infinite floats. Other values, numeric
// or not, are considered finite.
func isFinite(v any) bool {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	default:
		return true
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
