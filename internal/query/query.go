// Package query builds record predicates and orderings for jsondb.
//
// A [Filter] compares one property against a value; filters combine with
// And/Or. [Predicate] compiles filters into a jsondb.Predicate and
// [SortRecords] orders a Select result.
package query

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/maruel/jsondb/internal/jsondb"
)

// Filter defines a condition on a record.
type Filter struct {
	Property string   `json:"property,omitempty" yaml:"property,omitempty"`
	Operator FilterOp `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`

	// Compound filters (mutually exclusive with Property/Operator/Value)
	And []Filter `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []Filter `json:"or,omitempty" yaml:"or,omitempty"`
}

// FilterOp defines the comparison operator for a filter.
type FilterOp string

const (
	// FilterOpEquals matches if value equals the filter value.
	FilterOpEquals FilterOp = "equals"
	// FilterOpNotEquals matches if value does not equal the filter value.
	FilterOpNotEquals FilterOp = "not_equals"
	// FilterOpContains matches if the string value contains the filter value, ignoring case.
	FilterOpContains FilterOp = "contains"
	// FilterOpNotContains is the negation of FilterOpContains.
	FilterOpNotContains FilterOp = "not_contains"
	// FilterOpStartsWith matches if the string value starts with the filter value, ignoring case.
	FilterOpStartsWith FilterOp = "starts_with"
	// FilterOpEndsWith matches if the string value ends with the filter value, ignoring case.
	FilterOpEndsWith FilterOp = "ends_with"
	// FilterOpGreaterThan matches if value is greater than the filter value.
	FilterOpGreaterThan FilterOp = "gt"
	// FilterOpLessThan matches if value is less than the filter value.
	FilterOpLessThan FilterOp = "lt"
	// FilterOpGreaterEqual matches if value is greater than or equal to the filter value.
	FilterOpGreaterEqual FilterOp = "gte"
	// FilterOpLessEqual matches if value is less than or equal to the filter value.
	FilterOpLessEqual FilterOp = "lte"
	// FilterOpIsEmpty matches a missing property, null, "" or an empty list or object.
	FilterOpIsEmpty FilterOp = "is_empty"
	// FilterOpIsNotEmpty is the negation of FilterOpIsEmpty.
	FilterOpIsNotEmpty FilterOp = "is_not_empty"
)

// Valid reports whether op is a known operator.
func (op FilterOp) Valid() bool {
	switch op {
	case FilterOpEquals, FilterOpNotEquals, FilterOpContains, FilterOpNotContains,
		FilterOpStartsWith, FilterOpEndsWith, FilterOpGreaterThan, FilterOpLessThan,
		FilterOpGreaterEqual, FilterOpLessEqual, FilterOpIsEmpty, FilterOpIsNotEmpty:
		return true
	}
	return false
}

// Validate checks that f and its nested filters are well formed.
func (f *Filter) Validate() error {
	compound := len(f.And) > 0 || len(f.Or) > 0
	if compound {
		if f.Property != "" || f.Operator != "" {
			return fmt.Errorf("filter on %q cannot also have and/or clauses", f.Property)
		}
		for i := range f.And {
			if err := f.And[i].Validate(); err != nil {
				return err
			}
		}
		for i := range f.Or {
			if err := f.Or[i].Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if f.Property == "" {
		return errors.New("filter property is required")
	}
	if !f.Operator.Valid() {
		return fmt.Errorf("filter on %q: unknown operator %q", f.Property, f.Operator)
	}
	return nil
}

// Predicate returns a predicate matching records that satisfy every filter.
// No filters match every record.
func Predicate(filters ...Filter) jsondb.Predicate {
	if len(filters) == 0 {
		return jsondb.All
	}
	filters = slices.Clone(filters)
	return func(r jsondb.Record) bool {
		for i := range filters {
			if !matchesFilter(r, &filters[i]) {
				return false
			}
		}
		return true
	}
}

func matchesFilter(r jsondb.Record, f *Filter) bool {
	if len(f.And) > 0 {
		for i := range f.And {
			if !matchesFilter(r, &f.And[i]) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for i := range f.Or {
			if matchesFilter(r, &f.Or[i]) {
				return true
			}
		}
		return false
	}
	if f.Property == "" {
		return true
	}
	value, ok := r[f.Property]
	if !ok {
		return f.Operator == FilterOpIsEmpty
	}
	return matchesOperator(value, f.Operator, f.Value)
}

func matchesOperator(value any, op FilterOp, filterValue any) bool {
	switch op {
	case FilterOpIsEmpty:
		return isEmpty(value)
	case FilterOpIsNotEmpty:
		return !isEmpty(value)
	case FilterOpEquals:
		return compareValues(value, filterValue) == 0
	case FilterOpNotEquals:
		return compareValues(value, filterValue) != 0
	case FilterOpGreaterThan:
		return ordered(value, filterValue) && compareValues(value, filterValue) > 0
	case FilterOpLessThan:
		return ordered(value, filterValue) && compareValues(value, filterValue) < 0
	case FilterOpGreaterEqual:
		return ordered(value, filterValue) && compareValues(value, filterValue) >= 0
	case FilterOpLessEqual:
		return ordered(value, filterValue) && compareValues(value, filterValue) <= 0
	case FilterOpContains:
		return matchString(value, filterValue, strings.Contains)
	case FilterOpNotContains:
		return !matchString(value, filterValue, strings.Contains)
	case FilterOpStartsWith:
		return matchString(value, filterValue, strings.HasPrefix)
	case FilterOpEndsWith:
		return matchString(value, filterValue, strings.HasSuffix)
	default:
		return false
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// matchString applies fn to the lowercased string value and filter value.
// Non-string values never match.
func matchString(value, filterValue any, fn func(s, substr string) bool) bool {
	vs, ok := value.(string)
	if !ok {
		return false
	}
	fs, ok := filterValue.(string)
	if !ok {
		return false
	}
	return fn(strings.ToLower(vs), strings.ToLower(fs))
}

// rank orders values of different kinds: null, booleans, numbers, strings,
// then everything else.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// ordered reports whether ordering operators apply to a and b: both
// numbers or both strings.
func ordered(a, b any) bool {
	ra := rank(a)
	return ra == rank(b) && (ra == 2 || ra == 3)
}

// compareValues compares two values, returning -1, 0, or 1.
func compareValues(a, b any) int {
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	switch va := a.(type) {
	case nil:
		return 0
	case bool:
		vb := b.(bool)
		switch {
		case va == vb:
			return 0
		case !va:
			return -1
		default:
			return 1
		}
	case string:
		return cmp.Compare(va, b.(string))
	case float64, int, int64:
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	// Lists and objects compare by their formatted text.
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Sort defines the sort order for a property.
type Sort struct {
	Property  string  `json:"property" yaml:"property"`
	Direction SortDir `json:"direction" yaml:"direction"`
}

// SortDir defines the sort direction.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// SortRecords sorts records in place by the given sort criteria. Records
// comparing equal keep their relative order.
func SortRecords(records []jsondb.Record, sorts ...Sort) {
	if len(sorts) == 0 {
		return
	}
	slices.SortStableFunc(records, func(a, b jsondb.Record) int {
		for i := range sorts {
			s := &sorts[i]
			if c := compareValues(a[s.Property], b[s.Property]); c != 0 {
				if s.Direction == SortDesc {
					return -c
				}
				return c
			}
		}
		return 0
	})
}
