package jsondb

import (
	"encoding/json"
	"math"
)

// Record is one stored document: attribute name to value, plus "_id".
//
// Values use the encoding/json representation: string, float64, bool, nil,
// map[string]any and []any. The "_id" value is an int64.
type Record map[string]any

// Predicate selects the records an operation applies to. A nil Predicate
// matches every record.
//
// Select, Count, Update and Delete call the predicate with the database lock
// held: it must not call methods of the same Database. Use Each to run
// arbitrary code per record.
type Predicate func(Record) bool

// All is the Predicate matching every record.
func All(Record) bool { return true }

// ID returns the store-assigned identity, or false if the record has none.
func (r Record) ID() (int64, bool) {
	return toID(r[IDKey])
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = cloneValue(v)
	}
	return c
}

// cloneValue deep copies JSON containers. Scalars are immutable.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case Record:
		return t.Clone()
	default:
		return v
	}
}

// toID converts a decoded identity to int64. Only integral values are
// accepted.
func toID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || t < math.MinInt64 || t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func (p Predicate) match(r Record) bool {
	return p == nil || p(r)
}
