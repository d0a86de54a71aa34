package jsondb

import (
	"fmt"
)

// table is a named schema plus its records in insertion order. It is owned
// by a Database and never handed out.
type table struct {
	name    string
	schema  Schema
	records []Record
}

// tableFromDocument checks and converts a decoded table.
func tableFromDocument(td *TableDocument) (*table, error) {
	schema, err := NewSchema(td.Attributes)
	if err != nil {
		return nil, err
	}
	t := &table{name: td.Name, schema: schema, records: make([]Record, 0, len(td.Records))}
	// Identities strictly increase so nextID never reuses one.
	var last int64
	for i, r := range td.Records {
		id, ok := r.ID()
		if !ok {
			return nil, fmt.Errorf("record %d: missing %s", i, IDKey)
		}
		if i > 0 && id <= last {
			if id == last {
				return nil, fmt.Errorf("record %d: duplicate %s %d", i, IDKey, id)
			}
			return nil, fmt.Errorf("record %d: %s %d is not greater than %d", i, IDKey, id, last)
		}
		last = id
		c := r.Clone()
		c[IDKey] = id
		t.records = append(t.records, c)
	}
	return t, nil
}

// document returns a deep copy of the table in serialized form.
func (t *table) document() TableDocument {
	records := make([]Record, len(t.records))
	for i, r := range t.records {
		records[i] = r.Clone()
	}
	attrs := t.schema.Clone()
	if attrs == nil {
		attrs = Schema{}
	}
	return TableDocument{Name: t.name, Records: records, Attributes: attrs}
}

// nextID returns the identity for the next insert: one past the last
// record's, or 1 for an empty table.
func (t *table) nextID() int64 {
	if len(t.records) == 0 {
		return 1
	}
	id, _ := t.records[len(t.records)-1].ID()
	return id + 1
}

// matches returns clones of the records selected by p, with their positions.
func (t *table) matches(p Predicate) ([]int, []Record) {
	var idx []int
	var out []Record
	for i, r := range t.records {
		c := r.Clone()
		if p.match(c) {
			idx = append(idx, i)
			out = append(out, c)
		}
	}
	return idx, out
}
