package jsondb

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/maruel/ksid"
)

// Database owns a set of tables and persists them through a Backend.
//
// All methods are safe for concurrent use within one process. Nothing
// coordinates multiple processes sharing the same backend: the last writer
// wins.
type Database struct {
	backend Backend

	mu     sync.RWMutex
	tables []*table
	byName map[string]*table
}

// Open loads the database from b.
//
// A missing document is created empty. A document that is empty or
// whitespace only is rewritten as an empty document. Any other failure is
// returned as a *ConstructionError.
func Open(b Backend) (*Database, error) {
	if b == nil {
		return nil, &ConstructionError{Err: errors.New("backend is required")}
	}
	db := &Database{backend: b}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

// Reload replaces the in-memory state with the backend's current document.
// On failure the previous state is kept.
func (db *Database) Reload() error {
	return db.load()
}

func (db *Database) load() error {
	exists, err := db.backend.Exists()
	if err != nil {
		return &ConstructionError{Err: err}
	}
	if !exists {
		if err := db.backend.CreateEmpty(); err != nil {
			return &ConstructionError{Err: fmt.Errorf("cannot be created: %w", err)}
		}
	}
	doc, err := db.backend.Load()
	if errors.Is(err, ErrEmptyDocument) {
		if err := db.backend.CreateEmpty(); err != nil {
			return &ConstructionError{Err: fmt.Errorf("cannot be initialized: %w", err)}
		}
		doc, err = EmptyDocument(), nil
	}
	if err != nil {
		return &ConstructionError{Err: err}
	}
	tables := make([]*table, 0, len(doc.Tables))
	byName := make(map[string]*table, len(doc.Tables))
	for i := range doc.Tables {
		td := &doc.Tables[i]
		if td.Name == "" {
			return &ConstructionError{Err: fmt.Errorf("table %d has no name", i)}
		}
		if _, ok := byName[td.Name]; ok {
			return &ConstructionError{Err: &TableError{Table: td.Name, Err: ErrTableAlreadyExists}}
		}
		t, err := tableFromDocument(td)
		if err != nil {
			return &ConstructionError{Err: &TableError{Table: td.Name, Err: err}}
		}
		tables = append(tables, t)
		byName[t.name] = t
	}
	db.mu.Lock()
	db.tables = tables
	db.byName = byName
	db.mu.Unlock()
	slog.Debug("Loaded database", "tables", len(tables))
	return nil
}

// Snapshot returns a deep copy of the document as it would be persisted.
func (db *Database) Snapshot() *Document {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.document()
}

func (db *Database) document() *Document {
	doc := &Document{Tables: make([]TableDocument, len(db.tables))}
	for i, t := range db.tables {
		doc.Tables[i] = t.document()
	}
	return doc
}

// save persists the whole document. Must be called with db.mu held.
func (db *Database) save(op ksid.ID, summary string) error {
	doc := db.document()
	var err error
	if cs, ok := db.backend.(ChangeSaver); ok {
		err = cs.SaveChange(doc, summary)
	} else {
		err = db.backend.Save(doc)
	}
	if err != nil {
		slog.Warn("Failed to persist database", "op", op, "change", summary, "err", err)
		return &IOError{Op: summary, Err: err}
	}
	return nil
}

func (db *Database) get(name string) (*table, error) {
	t := db.byName[name]
	if t == nil {
		return nil, &TableError{Table: name, Err: ErrTableNotFound}
	}
	return t, nil
}

// TableExists reports whether a table with this name exists.
func (db *Database) TableExists(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.byName[name]
	return ok
}

// Tables returns the table names in creation order.
func (db *Database) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, len(db.tables))
	for i, t := range db.tables {
		names[i] = t.name
	}
	return names
}

// Schema returns a copy of the table's schema.
func (db *Database) Schema(name string) (Schema, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, err := db.get(name)
	if err != nil {
		return nil, err
	}
	return t.schema.Clone(), nil
}

// JSONSchema returns the table's schema as a JSON Schema document.
func (db *Database) JSONSchema(name string) (*jsonschema.Schema, error) {
	s, err := db.Schema(name)
	if err != nil {
		return nil, err
	}
	return s.JSONSchema(name), nil
}

// CreateTable registers an empty table and persists.
func (db *Database) CreateTable(name string, attrs []Attribute) error {
	if name == "" {
		return &TableError{Table: name, Err: errors.New("table name is required")}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.byName[name]; ok {
		return &TableError{Table: name, Err: ErrTableAlreadyExists}
	}
	schema, err := NewSchema(attrs)
	if err != nil {
		return &TableError{Table: name, Err: err}
	}
	t := &table{name: name, schema: schema, records: []Record{}}
	db.tables = append(db.tables, t)
	db.byName[name] = t
	op := ksid.NewID()
	slog.Debug("Created table", "op", op, "table", name, "columns", len(schema))
	return db.save(op, fmt.Sprintf("create table %s", name))
}

// Select returns deep copies of the matching records in insertion order.
func (db *Database) Select(name string, p Predicate) ([]Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, err := db.get(name)
	if err != nil {
		return nil, err
	}
	_, out := t.matches(p)
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Iter returns an iterator over copies of the matching records.
//
// Matching happens when Iter is called; the iteration itself does not hold
// any lock, so the caller may mutate the database while iterating.
func (db *Database) Iter(name string, p Predicate) (iter.Seq[Record], error) {
	rows, err := db.Select(name, p)
	if err != nil {
		return nil, err
	}
	return slices.Values(rows), nil
}

// Each calls visit once per matching record, in insertion order.
func (db *Database) Each(name string, p Predicate, visit func(Record)) error {
	rows, err := db.Iter(name, p)
	if err != nil {
		return err
	}
	for r := range rows {
		visit(r)
	}
	return nil
}

// Count returns the number of matching records.
func (db *Database) Count(name string, p Predicate) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, err := db.get(name)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return len(t.records), nil
	}
	idx, _ := t.matches(p)
	return len(idx), nil
}

// Insert validates record, assigns it the next "_id" and persists.
//
// The caller's map is not modified. On validation failure the table is
// unchanged and the validation error is returned as-is.
func (db *Database) Insert(name string, record map[string]any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.get(name)
	if err != nil {
		return 0, err
	}
	r, err := Validate(t.schema, record)
	if err != nil {
		return 0, err
	}
	id := t.nextID()
	r[IDKey] = id
	t.records = append(t.records, r)
	op := ksid.NewID()
	slog.Debug("Inserted record", "op", op, "table", name, "id", id)
	return id, db.save(op, fmt.Sprintf("insert into %s (%s %d)", name, IDKey, id))
}

// Update merges patch into every matching record and persists.
//
// The patch is validated before any record changes. Either every matching
// record is updated or none is. Returns the number of records updated.
func (db *Database) Update(name string, patch map[string]any, p Predicate) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.get(name)
	if err != nil {
		return 0, err
	}
	norm, err := ValidatePatch(t.schema, patch)
	if err != nil {
		return 0, err
	}
	idx, _ := t.matches(p)
	updated := make([]Record, len(idx))
	for j, i := range idx {
		r := t.records[i].Clone()
		for k, v := range norm {
			r[k] = cloneValue(v)
		}
		updated[j] = r
	}
	for j, i := range idx {
		t.records[i] = updated[j]
	}
	op := ksid.NewID()
	slog.Debug("Updated records", "op", op, "table", name, "count", len(idx))
	return len(idx), db.save(op, fmt.Sprintf("update %s (%d records)", name, len(idx)))
}

// Delete removes every matching record and persists. Returns the number of
// records removed.
func (db *Database) Delete(name string, p Predicate) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.get(name)
	if err != nil {
		return 0, err
	}
	kept := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if !p.match(r.Clone()) {
			kept = append(kept, r)
		}
	}
	removed := len(t.records) - len(kept)
	t.records = kept
	op := ksid.NewID()
	slog.Debug("Deleted records", "op", op, "table", name, "count", removed)
	return removed, db.save(op, fmt.Sprintf("delete from %s (%d records)", name, removed))
}

// Drop removes the table, its schema and its records, and persists.
func (db *Database) Drop(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.get(name)
	if err != nil {
		return err
	}
	db.tables = slices.DeleteFunc(db.tables, func(x *table) bool { return x == t })
	delete(db.byName, name)
	op := ksid.NewID()
	slog.Debug("Dropped table", "op", op, "table", name)
	return db.save(op, fmt.Sprintf("drop table %s", name))
}
