package jsondb

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

// memBackend is a minimal in-memory Backend for tests.
type memBackend struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failErr error
	changes []string
}

func (m *memBackend) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data != nil, nil
}

func (m *memBackend) CreateEmpty() error {
	return m.Save(EmptyDocument())
}

func (m *memBackend) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DecodeDocument(m.data)
}

func (m *memBackend) Save(doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

// changeBackend also records change summaries.
type changeBackend struct {
	memBackend
}

func (c *changeBackend) SaveChange(doc *Document, summary string) error {
	if err := c.Save(doc); err != nil {
		return err
	}
	c.mu.Lock()
	c.changes = append(c.changes, summary)
	c.mu.Unlock()
	return nil
}

// setupDatabase opens a database on a fresh in-memory backend with a
// "members" table.
func setupDatabase(t *testing.T) (*Database, *memBackend) {
	t.Helper()
	b := &memBackend{}
	db, err := Open(b)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err = db.CreateTable("members", []Attribute{
		{Name: "name", Type: TypeString},
		{Name: "age", Type: TypeNumber, Nullable: true, Default: 18},
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return db, b
}

func byName(name string) Predicate {
	return func(r Record) bool { return r["name"] == name }
}

func TestOpen(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		t.Run("missing document is created", func(t *testing.T) {
			b := &memBackend{}
			db, err := Open(b)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got := string(b.data); got != "{\n  \"tables\": []\n}\n" {
				t.Errorf("stored document = %q", got)
			}
			if len(db.Tables()) != 0 {
				t.Errorf("Tables() = %v, want none", db.Tables())
			}
		})
		t.Run("whitespace document is rewritten", func(t *testing.T) {
			b := &memBackend{data: []byte(" \r\n\t\n")}
			if _, err := Open(b); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got := string(b.data); got != "{\n  \"tables\": []\n}\n" {
				t.Errorf("stored document = %q", got)
			}
		})
		t.Run("existing document", func(t *testing.T) {
			b := &memBackend{data: []byte(`{"tables": [{"_name": "t", "_records": [{"x": 1, "_id": 1700000000000}], "_attributes": [{"name": "x", "type": "number", "null": false, "default": null}]}]}`)}
			db, err := Open(b)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			rows, err := db.Select("t", nil)
			if err != nil {
				t.Fatal(err)
			}
			want := []Record{{"x": float64(1), IDKey: int64(1700000000000)}}
			if !reflect.DeepEqual(rows, want) {
				t.Errorf("Select() = %#v, want %#v", rows, want)
			}
			id, err := db.Insert("t", map[string]any{"x": 2})
			if err != nil || id != 1700000000001 {
				t.Errorf("Insert() = %d, %v, want 1700000000001", id, err)
			}
		})
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"malformed json", `{"tables": [`},
			{"duplicate table", `{"tables": [{"_name": "a"}, {"_name": "a"}]}`},
			{"unnamed table", `{"tables": [{"_records": []}]}`},
			{"record without id", `{"tables": [{"_name": "a", "_records": [{"x": 1}]}]}`},
			{"duplicate id", `{"tables": [{"_name": "a", "_records": [{"_id": 1}, {"_id": 1}]}]}`},
			{"decreasing ids", `{"tables": [{"_name": "a", "_records": [{"_id": 3}, {"_id": 2}]}]}`},
			{"earlier duplicate id", `{"tables": [{"_name": "a", "_records": [{"_id": 3}, {"_id": 5}, {"_id": 3}]}]}`},
			{"invalid schema", `{"tables": [{"_name": "a", "_attributes": [{"name": "x"}, {"name": "x"}]}]}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Open(&memBackend{data: []byte(tt.data)})
				if !errors.Is(err, ErrConstruction) {
					t.Errorf("Open() error = %v, want ErrConstruction", err)
				}
			})
		}
		t.Run("nil backend", func(t *testing.T) {
			if _, err := Open(nil); !errors.Is(err, ErrConstruction) {
				t.Errorf("Open(nil) error = %v, want ErrConstruction", err)
			}
		})
		t.Run("unwritable backend", func(t *testing.T) {
			_, err := Open(&memBackend{failErr: errors.New("read-only")})
			if !errors.Is(err, ErrConstruction) {
				t.Errorf("Open() error = %v, want ErrConstruction", err)
			}
		})
	})
}

func TestDatabase(t *testing.T) {
	t.Run("TableExists", func(t *testing.T) {
		db, _ := setupDatabase(t)
		if !db.TableExists("members") {
			t.Error("TableExists(members) = false")
		}
		if db.TableExists("missing") {
			t.Error("TableExists(missing) = true")
		}
	})

	t.Run("CreateTable", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			db, b := setupDatabase(t)
			if err := db.CreateTable("other", nil); err != nil {
				t.Fatal(err)
			}
			if got, want := db.Tables(), []string{"members", "other"}; !reflect.DeepEqual(got, want) {
				t.Errorf("Tables() = %v, want %v", got, want)
			}
			s, err := db.Schema("members")
			if err != nil {
				t.Fatal(err)
			}
			want := Schema{
				{Name: "name", Type: TypeString},
				{Name: "age", Type: TypeNumber, Nullable: true, Default: float64(18)},
			}
			if !reflect.DeepEqual(s, want) {
				t.Errorf("Schema() = %#v, want %#v", s, want)
			}
			if b.saves != 3 {
				t.Errorf("saves = %d, want 3", b.saves)
			}
		})
		t.Run("errors", func(t *testing.T) {
			tests := []struct {
				name    string
				table   string
				attrs   []Attribute
				wantErr error
			}{
				{"already exists", "members", nil, ErrTableAlreadyExists},
				{"duplicate column", "dup", []Attribute{{Name: "x"}, {Name: "x"}}, ErrDuplicateColumn},
				{"missing column name", "anon", []Attribute{{Type: TypeString}}, ErrMissingColumnName},
				{"invalid type", "bad", []Attribute{{Name: "x", Type: "int"}}, ErrInvalidAttributeSpec},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					db, b := setupDatabase(t)
					saves := b.saves
					err := db.CreateTable(tt.table, tt.attrs)
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("CreateTable() error = %v, want %v", err, tt.wantErr)
					}
					if tt.table != "members" && db.TableExists(tt.table) {
						t.Error("failed CreateTable registered a table")
					}
					if b.saves != saves {
						t.Error("failed CreateTable persisted")
					}
				})
			}
		})
	})

	t.Run("Insert", func(t *testing.T) {
		t.Run("sequential ids", func(t *testing.T) {
			db, _ := setupDatabase(t)
			for i, name := range []string{"Ann", "Bob"} {
				id, err := db.Insert("members", map[string]any{"name": name})
				if err != nil {
					t.Fatal(err)
				}
				if id != int64(i+1) {
					t.Errorf("Insert(%s) id = %d, want %d", name, id, i+1)
				}
			}
		})
		t.Run("normalized record stored", func(t *testing.T) {
			db, _ := setupDatabase(t)
			id, err := db.Insert("members", map[string]any{"name": "Ann"})
			if err != nil {
				t.Fatal(err)
			}
			rows, err := db.Select("members", func(r Record) bool {
				got, _ := r.ID()
				return got == id
			})
			if err != nil {
				t.Fatal(err)
			}
			want := []Record{{"name": "Ann", "age": float64(18), IDKey: int64(1)}}
			if !reflect.DeepEqual(rows, want) {
				t.Errorf("Select() = %#v, want %#v", rows, want)
			}
		})
		t.Run("missing required field", func(t *testing.T) {
			db, b := setupDatabase(t)
			saves := b.saves
			_, err := db.Insert("members", map[string]any{"age": "old"})
			if !errors.Is(err, ErrMissingRequiredField) {
				t.Fatalf("Insert() error = %v, want ErrMissingRequiredField", err)
			}
			if n, _ := db.Count("members", nil); n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}
			if b.saves != saves {
				t.Error("failed Insert persisted")
			}
		})
		t.Run("ids after delete", func(t *testing.T) {
			db, _ := setupDatabase(t)
			for _, name := range []string{"a", "b", "c"} {
				if _, err := db.Insert("members", map[string]any{"name": name}); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := db.Delete("members", byName("b")); err != nil {
				t.Fatal(err)
			}
			if id, _ := db.Insert("members", map[string]any{"name": "d"}); id != 4 {
				t.Errorf("Insert() id = %d, want 4", id)
			}
			if _, err := db.Delete("members", nil); err != nil {
				t.Fatal(err)
			}
			if id, _ := db.Insert("members", map[string]any{"name": "e"}); id != 1 {
				t.Errorf("Insert() into emptied table id = %d, want 1", id)
			}
		})
		t.Run("table not found", func(t *testing.T) {
			db, _ := setupDatabase(t)
			_, err := db.Insert("missing", map[string]any{"name": "x"})
			if !errors.Is(err, ErrTableNotFound) {
				t.Errorf("Insert() error = %v, want ErrTableNotFound", err)
			}
			var te *TableError
			if !errors.As(err, &te) || te.Table != "missing" {
				t.Errorf("Insert() error = %#v, want *TableError for missing", err)
			}
		})
	})

	t.Run("Select", func(t *testing.T) {
		db, _ := setupDatabase(t)
		for _, r := range []map[string]any{{"name": "a", "age": 10}, {"name": "b", "age": 30}, {"name": "c", "age": 50}} {
			if _, err := db.Insert("members", r); err != nil {
				t.Fatal(err)
			}
		}
		t.Run("order and filter", func(t *testing.T) {
			rows, err := db.Select("members", func(r Record) bool { return r["age"].(float64) > 20 })
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 2 || rows[0]["name"] != "b" || rows[1]["name"] != "c" {
				t.Errorf("Select() = %v", rows)
			}
		})
		t.Run("no match is empty", func(t *testing.T) {
			rows, err := db.Select("members", func(Record) bool { return false })
			if err != nil || rows == nil || len(rows) != 0 {
				t.Errorf("Select() = %#v, %v, want empty", rows, err)
			}
		})
		t.Run("results are copies", func(t *testing.T) {
			rows, _ := db.Select("members", nil)
			rows[0]["name"] = "changed"
			rows[0]["extra"] = true
			again, _ := db.Select("members", nil)
			if again[0]["name"] != "a" || again[0]["extra"] != nil {
				t.Error("Select() returned live records")
			}
		})
		t.Run("predicate cannot mutate", func(t *testing.T) {
			_, _ = db.Select("members", func(r Record) bool {
				r["name"] = "mutated"
				return true
			})
			rows, _ := db.Select("members", byName("mutated"))
			if len(rows) != 0 {
				t.Error("predicate mutated stored records")
			}
		})
		t.Run("count matches select", func(t *testing.T) {
			preds := []Predicate{nil, All, byName("a"), func(Record) bool { return false }}
			for i, p := range preds {
				rows, _ := db.Select("members", p)
				n, err := db.Count("members", p)
				if err != nil || n != len(rows) {
					t.Errorf("predicate %d: Count() = %d, %v; len(Select()) = %d", i, n, err, len(rows))
				}
			}
		})
		t.Run("table not found", func(t *testing.T) {
			if _, err := db.Select("missing", nil); !errors.Is(err, ErrTableNotFound) {
				t.Errorf("Select() error = %v", err)
			}
			if _, err := db.Count("missing", nil); !errors.Is(err, ErrTableNotFound) {
				t.Errorf("Count() error = %v", err)
			}
		})
	})

	t.Run("Each", func(t *testing.T) {
		db, _ := setupDatabase(t)
		for _, name := range []string{"a", "b", "c"} {
			if _, err := db.Insert("members", map[string]any{"name": name}); err != nil {
				t.Fatal(err)
			}
		}
		var got []string
		err := db.Each("members", func(r Record) bool { return r["name"] != "b" }, func(r Record) {
			got = append(got, r["name"].(string))
			// Visitors may call back into the database.
			if _, err := db.Count("members", nil); err != nil {
				t.Error(err)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"a", "c"}; !reflect.DeepEqual(got, want) {
			t.Errorf("Each() visited %v, want %v", got, want)
		}
		if err := db.Each("missing", nil, func(Record) {}); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("Each() error = %v", err)
		}

		seq, err := db.Iter("members", nil)
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for range seq {
			n++
			break
		}
		if n != 1 {
			t.Errorf("Iter() early break visited %d", n)
		}
	})

	t.Run("Update", func(t *testing.T) {
		setup := func(t *testing.T) (*Database, *memBackend) {
			db, b := setupDatabase(t)
			for _, name := range []string{"a", "b", "c"} {
				if _, err := db.Insert("members", map[string]any{"name": name}); err != nil {
					t.Fatal(err)
				}
			}
			return db, b
		}
		t.Run("matching records", func(t *testing.T) {
			db, _ := setup(t)
			n, err := db.Update("members", map[string]any{"age": 99}, func(r Record) bool { return r["name"] != "b" })
			if err != nil || n != 2 {
				t.Fatalf("Update() = %d, %v", n, err)
			}
			rows, _ := db.Select("members", nil)
			ages := []any{rows[0]["age"], rows[1]["age"], rows[2]["age"]}
			if want := []any{float64(99), float64(18), float64(99)}; !reflect.DeepEqual(ages, want) {
				t.Errorf("ages = %v, want %v", ages, want)
			}
			if id, _ := rows[2].ID(); id != 3 {
				t.Errorf("id changed to %d", id)
			}
		})
		t.Run("no match still persists", func(t *testing.T) {
			db, b := setup(t)
			before, _ := db.Select("members", nil)
			saves := b.saves
			n, err := db.Update("members", map[string]any{"age": 99}, func(Record) bool { return false })
			if err != nil || n != 0 {
				t.Fatalf("Update() = %d, %v", n, err)
			}
			after, _ := db.Select("members", nil)
			if !reflect.DeepEqual(before, after) {
				t.Error("records changed")
			}
			if b.saves != saves+1 {
				t.Errorf("saves = %d, want %d", b.saves, saves+1)
			}
		})
		t.Run("invalid patch changes nothing", func(t *testing.T) {
			tests := []struct {
				name    string
				patch   map[string]any
				wantErr error
			}{
				{"unknown column", map[string]any{"age": 1, "nickname": "x"}, ErrUnknownColumn},
				{"type mismatch", map[string]any{"age": "old"}, ErrTypeMismatch},
				{"null not allowed", map[string]any{"name": nil}, ErrNullNotAllowed},
				{"identity", map[string]any{IDKey: 10}, ErrUnknownColumn},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					db, b := setup(t)
					before, _ := db.Select("members", nil)
					saves := b.saves
					if _, err := db.Update("members", tt.patch, nil); !errors.Is(err, tt.wantErr) {
						t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
					}
					after, _ := db.Select("members", nil)
					if !reflect.DeepEqual(before, after) {
						t.Error("failed Update changed records")
					}
					if b.saves != saves {
						t.Error("failed Update persisted")
					}
				})
			}
		})
		t.Run("patch not shared between records", func(t *testing.T) {
			db, _ := setupDatabase(t)
			if err := db.CreateTable("docs", []Attribute{{Name: "meta", Type: TypeObject, Nullable: true}}); err != nil {
				t.Fatal(err)
			}
			for range 2 {
				if _, err := db.Insert("docs", map[string]any{}); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := db.Update("docs", map[string]any{"meta": map[string]any{"k": "v"}}, nil); err != nil {
				t.Fatal(err)
			}
			if _, err := db.Update("docs", map[string]any{"meta": map[string]any{"k": "w"}}, func(r Record) bool {
				id, _ := r.ID()
				return id == 1
			}); err != nil {
				t.Fatal(err)
			}
			rows, _ := db.Select("docs", nil)
			if rows[1]["meta"].(map[string]any)["k"] != "v" {
				t.Error("records share patch values")
			}
		})
	})

	t.Run("Delete", func(t *testing.T) {
		db, _ := setupDatabase(t)
		for _, name := range []string{"a", "b", "a", "c"} {
			if _, err := db.Insert("members", map[string]any{"name": name}); err != nil {
				t.Fatal(err)
			}
		}
		n, err := db.Delete("members", byName("a"))
		if err != nil || n != 2 {
			t.Fatalf("Delete() = %d, %v", n, err)
		}
		rows, _ := db.Select("members", nil)
		var ids []int64
		for _, r := range rows {
			id, _ := r.ID()
			ids = append(ids, id)
		}
		if want := []int64{2, 4}; !reflect.DeepEqual(ids, want) {
			t.Errorf("remaining ids = %v, want %v", ids, want)
		}
		if _, err := db.Delete("missing", nil); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("Delete() error = %v", err)
		}
	})

	t.Run("Drop", func(t *testing.T) {
		db, _ := setupDatabase(t)
		if err := db.Drop("members"); err != nil {
			t.Fatal(err)
		}
		if db.TableExists("members") {
			t.Error("TableExists() = true after Drop")
		}
		if _, err := db.Select("members", nil); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("Select() error = %v, want ErrTableNotFound", err)
		}
		if err := db.Drop("members"); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("Drop() error = %v, want ErrTableNotFound", err)
		}
		if err := db.CreateTable("members", nil); err != nil {
			t.Errorf("CreateTable() after Drop error = %v", err)
		}
	})

	t.Run("JSONSchema", func(t *testing.T) {
		db, _ := setupDatabase(t)
		js, err := db.JSONSchema("members")
		if err != nil || js.Title != "members" {
			t.Errorf("JSONSchema() = %v, %v", js, err)
		}
		if _, err := db.JSONSchema("missing"); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("JSONSchema() error = %v", err)
		}
	})
}

func TestDatabasePersistence(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		db, b := setupDatabase(t)
		if err := db.CreateTable("notes", []Attribute{{Name: "body", Type: TypeObject, Default: map[string]any{"lines": []any{}}}}); err != nil {
			t.Fatal(err)
		}
		inserts := []struct {
			table  string
			record map[string]any
		}{
			{"members", map[string]any{"name": "Ann"}},
			{"members", map[string]any{"name": "Bob", "age": 40, "extra": []int{1, 2}}},
			{"notes", map[string]any{}},
		}
		for _, in := range inserts {
			if _, err := db.Insert(in.table, in.record); err != nil {
				t.Fatal(err)
			}
		}
		reopened, err := Open(b)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got, want := reopened.Snapshot(), db.Snapshot(); !reflect.DeepEqual(got, want) {
			t.Errorf("reopened = %#v\nwant %#v", got, want)
		}
	})

	t.Run("io error keeps mutation", func(t *testing.T) {
		db, b := setupDatabase(t)
		b.failErr = errors.New("disk full")
		_, err := db.Insert("members", map[string]any{"name": "Ann"})
		if !errors.Is(err, ErrIO) {
			t.Fatalf("Insert() error = %v, want ErrIO", err)
		}
		var ioe *IOError
		if !errors.As(err, &ioe) || !errors.Is(ioe.Err, b.failErr) {
			t.Errorf("Insert() error = %#v", err)
		}
		if n, _ := db.Count("members", nil); n != 1 {
			t.Errorf("Count() = %d, want 1", n)
		}
		b.failErr = nil
		if err := db.Reload(); err != nil {
			t.Fatal(err)
		}
		if n, _ := db.Count("members", nil); n != 0 {
			t.Errorf("Count() after Reload = %d, want 0", n)
		}
	})

	t.Run("change summaries", func(t *testing.T) {
		b := &changeBackend{}
		db, err := Open(b)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.CreateTable("t", []Attribute{{Name: "x", Nullable: true}}); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Insert("t", map[string]any{}); err != nil {
			t.Fatal(err)
		}
		if err := db.Drop("t"); err != nil {
			t.Fatal(err)
		}
		want := []string{"create table t", "insert into t (_id 1)", "drop table t"}
		if !reflect.DeepEqual(b.changes, want) {
			t.Errorf("changes = %q, want %q", b.changes, want)
		}
	})
}

func TestDatabaseConcurrent(t *testing.T) {
	db, _ := setupDatabase(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for range 10 {
				if _, err := db.Insert("members", map[string]any{"name": "n", "age": i}); err != nil {
					t.Error(err)
				}
				if _, err := db.Count("members", nil); err != nil {
					t.Error(err)
				}
			}
		})
	}
	wg.Wait()
	rows, _ := db.Select("members", nil)
	if len(rows) != 80 {
		t.Fatalf("len = %d, want 80", len(rows))
	}
	for i, r := range rows {
		if id, _ := r.ID(); id != int64(i+1) {
			t.Fatalf("row %d id = %d", i, id)
		}
	}
}
