// Defines the persisted document format and the storage interface.

package jsondb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the serialized form of a whole database.
type Document struct {
	Tables []TableDocument `json:"tables"`
}

// TableDocument is the serialized form of one table.
type TableDocument struct {
	Name       string      `json:"_name"`
	Records    []Record    `json:"_records"`
	Attributes []Attribute `json:"_attributes"`
}

// EmptyDocument returns a document without tables.
func EmptyDocument() *Document {
	return &Document{Tables: []TableDocument{}}
}

// DecodeDocument parses a serialized document.
//
// Whitespace-only input returns ErrEmptyDocument. Record identities are
// converted to int64.
func DecodeDocument(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if doc.Tables == nil {
		doc.Tables = []TableDocument{}
	}
	for i := range doc.Tables {
		td := &doc.Tables[i]
		if td.Records == nil {
			td.Records = []Record{}
		}
		if td.Attributes == nil {
			td.Attributes = []Attribute{}
		}
		for j, r := range td.Records {
			if r == nil {
				return nil, fmt.Errorf("table %q: record %d is null", td.Name, j)
			}
			id, ok := r.ID()
			if !ok {
				return nil, fmt.Errorf("table %q: record %d has an invalid %s %v", td.Name, j, IDKey, r[IDKey])
			}
			r[IDKey] = id
		}
	}
	return &doc, nil
}

// EncodeDocument serializes a document with two-space indentation and a
// trailing newline.
func EncodeDocument(doc *Document) ([]byte, error) {
	if doc.Tables == nil {
		doc = &Document{Tables: []TableDocument{}}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return append(data, '\n'), nil
}

// Backend stores the serialized document. Implementations are bound to a
// single location at construction time.
type Backend interface {
	// Exists reports whether a document is stored, even an empty one.
	Exists() (bool, error)
	// CreateEmpty stores a document without tables, replacing any content.
	CreateEmpty() error
	// Load returns the stored document, or ErrEmptyDocument if the content is
	// empty or whitespace only.
	Load() (*Document, error)
	// Save replaces the stored document.
	Save(doc *Document) error
}

// ChangeSaver is implemented by backends that record a description of each
// change, e.g. as a commit message. When implemented, SaveChange is called
// instead of Save.
type ChangeSaver interface {
	SaveChange(doc *Document, summary string) error
}
