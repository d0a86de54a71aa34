// Parses the compact filter and sort syntax used on the command line.

package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Binary operators, longest first at any given position.
var operators = []struct {
	token string
	op    FilterOp
}{
	{"!=", FilterOpNotEquals},
	{">=", FilterOpGreaterEqual},
	{"<=", FilterOpLessEqual},
	{"!~", FilterOpNotContains},
	{"^=", FilterOpStartsWith},
	{"$=", FilterOpEndsWith},
	{"=", FilterOpEquals},
	{">", FilterOpGreaterThan},
	{"<", FilterOpLessThan},
	{"~", FilterOpContains},
}

// ParseFilter parses expressions like "age>=20", "name~an", "email?" (is
// empty) or "email!?" (is not empty). A "?" ending the value of a binary
// operator is part of the value.
//
// The value is decoded as JSON when possible, otherwise it is used as a
// string: "n=1" compares with the number 1 and "n=\"1\"" with the string "1".
func ParseFilter(expr string) (Filter, error) {
	if p, ok := strings.CutSuffix(expr, "!?"); ok && !strings.ContainsAny(p, "=<>~") {
		return unaryFilter(expr, p, FilterOpIsNotEmpty)
	}
	if p, ok := strings.CutSuffix(expr, "?"); ok && !strings.ContainsAny(p, "=<>~") {
		return unaryFilter(expr, p, FilterOpIsEmpty)
	}
	for i := range len(expr) {
		for _, o := range operators {
			if !strings.HasPrefix(expr[i:], o.token) {
				continue
			}
			prop := strings.TrimSpace(expr[:i])
			if prop == "" {
				return Filter{}, fmt.Errorf("filter %q: property is required", expr)
			}
			return Filter{Property: prop, Operator: o.op, Value: parseValue(expr[i+len(o.token):])}, nil
		}
	}
	return Filter{}, fmt.Errorf("filter %q: no operator", expr)
}

func unaryFilter(expr, prop string, op FilterOp) (Filter, error) {
	prop = strings.TrimSpace(prop)
	if prop == "" {
		return Filter{}, fmt.Errorf("filter %q: property is required", expr)
	}
	return Filter{Property: prop, Operator: op}, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ParseSort parses "property", "property:asc" or "property:desc".
func ParseSort(expr string) (Sort, error) {
	prop, dir, found := strings.Cut(expr, ":")
	if prop == "" {
		return Sort{}, errors.New("sort property is required")
	}
	s := Sort{Property: prop, Direction: SortAsc}
	if found {
		switch SortDir(dir) {
		case SortAsc, SortDesc:
			s.Direction = SortDir(dir)
		default:
			return Sort{}, fmt.Errorf("sort %q: direction must be %q or %q", expr, SortAsc, SortDesc)
		}
	}
	return s, nil
}
